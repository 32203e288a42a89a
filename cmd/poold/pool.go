package main

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sengulatik66/catalyst/internal/config"
	"github.com/sengulatik66/catalyst/internal/settle"
)

func newPoolCmd() *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage pools",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and persist a new pool",
		RunE:  runPoolCreate,
	}
	createCmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over state-file)")
	createCmd.Flags().String("state-file", "./data/state.json", "local state snapshot path")
	createCmd.Flags().String("id", "", "pool identifier")
	createCmd.Flags().Uint64("amplification", 0, "amplification parameter")
	createCmd.Flags().String("balances", "", "initial balances (comma-separated asset=amount)")
	createCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted pools",
		RunE:  runPoolList,
	}
	listCmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over state-file)")
	listCmd.Flags().String("state-file", "./data/state.json", "local state snapshot path")
	listCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	poolCmd.AddCommand(createCmd)
	poolCmd.AddCommand(listCmd)
	return poolCmd
}

func runPoolCreate(cmd *cobra.Command, _ []string) error {
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

	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		return fmt.Errorf("id is required")
	}
	amp, _ := cmd.Flags().GetUint64("amplification")
	rawBalances, _ := cmd.Flags().GetString("balances")
	balances, err := parseBalancesFlag(rawBalances)
	if err != nil {
		return err
	}
	if len(balances) < 2 {
		return fmt.Errorf("at least two assets are required")
	}

	ctx := cmd.Context()
	store, state, closeStore, err := openStore(ctx, cfg.PGDSN, cfg.StateFile)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := settle.NewEngine(store, nil, nil, logger)
	if err := engine.Restore(state.Pools, state.Escrows); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	rec, err := engine.CreatePool(ctx, id, amp, balances)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created pool %s (amplification %d)\n", rec.ID, rec.Amplification)
	return nil
}

func runPoolList(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	_, state, closeStore, err := openStore(ctx, cfg.PGDSN, cfg.StateFile)
	if err != nil {
		return err
	}
	defer closeStore()

	pending := make(map[string]int)
	for _, e := range state.Escrows {
		pending[e.PoolID]++
	}

	for _, p := range state.Pools {
		assets := make([]string, 0, len(p.Balances))
		for asset := range p.Balances {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
		parts := make([]string, 0, len(assets))
		for _, asset := range assets {
			parts = append(parts, asset+"="+p.Balances[asset])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tamp=%d\t%s\tpending=%d\n",
			p.ID, p.Amplification, strings.Join(parts, ","), pending[p.ID])
	}
	return nil
}

func parseBalancesFlag(input string) (map[string]*big.Int, error) {
	balances := make(map[string]*big.Int)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid balance %q, want asset=amount", pair)
		}
		asset := strings.TrimSpace(parts[0])
		amount, ok := new(big.Int).SetString(strings.TrimSpace(parts[1]), 10)
		if asset == "" || !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid balance %q", pair)
		}
		balances[asset] = amount
	}
	return balances, nil
}
