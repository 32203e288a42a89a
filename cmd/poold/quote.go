package main

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/sengulatik66/catalyst/internal/config"
	"github.com/sengulatik66/catalyst/internal/settle"
)

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Dry-run a price quote against persisted pool state",
		RunE:  runQuote,
	}

	cmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over state-file)")
	cmd.Flags().String("state-file", "./data/state.json", "local state snapshot path")
	cmd.Flags().String("pool", "", "pool identifier")
	cmd.Flags().String("kind", "swap", "quote kind (swap, to_unit, from_unit)")
	cmd.Flags().String("asset-in", "", "input asset (kind=swap)")
	cmd.Flags().String("asset-out", "", "output asset (kind=swap)")
	cmd.Flags().String("asset", "", "asset (kind=to_unit or from_unit)")
	cmd.Flags().String("amount", "", "input amount (kind=swap or to_unit)")
	cmd.Flags().String("units", "", "unit amount (kind=from_unit)")
	cmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	return cmd
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	poolID, _ := cmd.Flags().GetString("pool")
	if poolID == "" {
		return fmt.Errorf("pool is required")
	}

	ctx := cmd.Context()
	_, state, closeStore, err := openStore(ctx, cfg.PGDSN, cfg.StateFile)
	if err != nil {
		return err
	}
	defer closeStore()

	// Quoting is read-only: the engine runs without persistence or
	// collaborators.
	engine := settle.NewEngine(settle.NullStore(), nil, nil, logger)
	if err := engine.Restore(state.Pools, state.Escrows); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	kind, _ := cmd.Flags().GetString("kind")
	var result *big.Int
	switch kind {
	case "swap":
		assetIn, _ := cmd.Flags().GetString("asset-in")
		assetOut, _ := cmd.Flags().GetString("asset-out")
		amount, err := parseAmountFlag(cmd, "amount")
		if err != nil {
			return err
		}
		result, err = engine.Quote(poolID, assetIn, assetOut, amount)
		if err != nil {
			return err
		}
	case "to_unit":
		asset, _ := cmd.Flags().GetString("asset")
		amount, err := parseAmountFlag(cmd, "amount")
		if err != nil {
			return err
		}
		result, err = engine.ToUnit(poolID, asset, amount)
		if err != nil {
			return err
		}
	case "from_unit":
		asset, _ := cmd.Flags().GetString("asset")
		units, err := parseAmountFlag(cmd, "units")
		if err != nil {
			return err
		}
		result, err = engine.FromUnit(poolID, asset, units)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown quote kind %q", kind)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result.String())
	return nil
}

func parseAmountFlag(cmd *cobra.Command, name string) (*big.Int, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return amount, nil
}
