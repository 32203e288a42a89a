package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sengulatik66/catalyst/internal/chain"
	"github.com/sengulatik66/catalyst/internal/config"
	"github.com/sengulatik66/catalyst/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare on-chain vault balances against persisted pool state",
		RunE:  runReconcile,
	}

	cmd.Flags().String("rpc", "", "EVM RPC URL")
	cmd.Flags().String("vault", "", "vault contract address")
	cmd.Flags().String("tokens", "", "asset to ERC-20 mappings (comma-separated asset=address)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over state-file)")
	cmd.Flags().String("state-file", "./data/state.json", "local state snapshot path")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.LoadReconcile(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Vault) {
		return fmt.Errorf("invalid vault address %q", cfg.Vault)
	}
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for asset, addr := range cfg.Tokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid token address %q for asset %s", addr, asset)
		}
		tokens[asset] = common.HexToAddress(addr)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("tokens mapping is required")
	}

	ctx := cmd.Context()
	_, state, closeStore, err := openStore(ctx, cfg.PGDSN, cfg.StateFile)
	if err != nil {
		return err
	}
	defer closeStore()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	logger.Info("reconcile start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("vault", cfg.Vault),
		zap.Int("tokens", len(tokens)),
		zap.Int("pools", len(state.Pools)),
		zap.Int("pending_escrows", len(state.Escrows)),
	)

	rec := reconcile.New(chainClient, common.HexToAddress(cfg.Vault), tokens, cfg.MaxRetries, cfg.RetryBackoff, logger)
	report, err := rec.Run(ctx, state.Pools, state.Escrows)
	if err != nil {
		return err
	}

	for _, row := range report.Rows {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\texpected=%s\ton_chain=%s\tdrift=%s\n",
			row.Asset, row.Token, row.Expected, row.OnChain, row.Drift)
	}
	for _, asset := range report.Skipped {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tskipped (no token mapping)\n", asset)
	}
	if !report.Clean {
		return fmt.Errorf("vault drift detected")
	}
	return nil
}
