// Package reconcile audits custody backing: for every ledger asset mapped to
// an ERC-20 token, the vault's on-chain balance is compared against what the
// persisted pool state says the vault must hold.
package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sengulatik66/catalyst/internal/model"
)

// Reconciler checks on-chain vault balances against persisted state.
type Reconciler struct {
	caller       ContractCaller
	vault        common.Address
	tokens       map[string]common.Address
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// New builds a Reconciler. tokens maps ledger asset identifiers to ERC-20
// contract addresses; assets without a mapping are skipped.
func New(caller ContractCaller, vault common.Address, tokens map[string]common.Address, maxRetries int, retryBackoff time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		caller:       caller,
		vault:        vault,
		tokens:       tokens,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

// Row is the reconciliation outcome for one asset. Expected is the ledger
// balance plus everything pending escrows still oblige the vault to hold:
// escrowed output amounts (deducted from the ledger but not yet released)
// and escrowed input deposits (held for refund until the swap resolves).
type Row struct {
	Asset    string
	Token    string
	Expected string
	OnChain  string
	Drift    string
}

// Report is the outcome of one reconciliation pass over all pools.
type Report struct {
	Rows    []Row
	Skipped []string
	Clean   bool
}

// Run computes expected holdings from the given persisted state and fetches
// the vault's on-chain balance for each mapped asset.
func (r *Reconciler) Run(ctx context.Context, pools []model.PoolRecord, escrows []model.EscrowRecord) (Report, error) {
	expected, err := ExpectedHoldings(pools, escrows)
	if err != nil {
		return Report{}, err
	}

	assets := make([]string, 0, len(expected))
	for asset := range expected {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	report := Report{Clean: true}
	for _, asset := range assets {
		token, ok := r.tokens[asset]
		if !ok {
			report.Skipped = append(report.Skipped, asset)
			r.logger.Warn("no token mapping for asset", zap.String("asset", asset))
			continue
		}

		var onChain *big.Int
		err := withRetry(ctx, r.maxRetries, r.retryBackoff, func(ctx context.Context) error {
			var callErr error
			onChain, callErr = balanceOf(ctx, r.caller, token, r.vault, nil)
			return callErr
		})
		if err != nil {
			return Report{}, fmt.Errorf("asset %s: %w", asset, err)
		}

		drift := new(big.Int).Sub(onChain, expected[asset])
		if drift.Sign() != 0 {
			report.Clean = false
			r.logger.Warn("vault drift",
				zap.String("asset", asset),
				zap.String("expected", expected[asset].String()),
				zap.String("on_chain", onChain.String()),
				zap.String("drift", drift.String()),
			)
		}
		report.Rows = append(report.Rows, Row{
			Asset:    asset,
			Token:    token.Hex(),
			Expected: expected[asset].String(),
			OnChain:  onChain.String(),
			Drift:    drift.String(),
		})
	}
	return report, nil
}

// ExpectedHoldings sums, per asset across all pools, the ledger balance plus
// pending escrow obligations: escrowed output value and refundable input
// deposits.
func ExpectedHoldings(pools []model.PoolRecord, escrows []model.EscrowRecord) (map[string]*big.Int, error) {
	expected := make(map[string]*big.Int)
	add := func(asset, raw string) error {
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return fmt.Errorf("invalid amount %q for asset %s", raw, asset)
		}
		if cur, ok := expected[asset]; ok {
			cur.Add(cur, amount)
		} else {
			expected[asset] = amount
		}
		return nil
	}

	for _, p := range pools {
		for asset, bal := range p.Balances {
			if err := add(asset, bal); err != nil {
				return nil, fmt.Errorf("pool %s: %w", p.ID, err)
			}
		}
	}
	for _, e := range escrows {
		if err := add(e.AssetOut, e.Escrowed); err != nil {
			return nil, fmt.Errorf("escrow %s: %w", e.Key, err)
		}
		if err := add(e.AssetIn, e.AmountIn); err != nil {
			return nil, fmt.Errorf("escrow %s: %w", e.Key, err)
		}
	}
	return expected, nil
}
