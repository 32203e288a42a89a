package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sengulatik66/catalyst/internal/api"
	"github.com/sengulatik66/catalyst/internal/config"
	"github.com/sengulatik66/catalyst/internal/custody"
	"github.com/sengulatik66/catalyst/internal/relay"
	"github.com/sengulatik66/catalyst/internal/settle"
	"github.com/sengulatik66/catalyst/internal/storage"
	"github.com/sengulatik66/catalyst/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "poold",
		Short:        "Cross-domain swap settlement daemon",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement HTTP server",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("pg-dsn", "", "Postgres DSN (takes precedence over state-file)")
	serveCmd.Flags().String("state-file", "./data/state.json", "local state snapshot path")
	serveCmd.Flags().String("outbox", "./data/outbox.jsonl", "outbound packet JSONL path")
	serveCmd.Flags().String("custody-journal", "./data/custody.jsonl", "custody transfer JSONL path")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)
	root.AddCommand(newQuoteCmd())
	root.AddCommand(newPoolCmd())
	root.AddCommand(newReconcileCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, state, closeStore, err := openStore(ctx, cfg.PGDSN, cfg.StateFile)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := settle.NewEngine(store, relay.NewJsonlSink(cfg.Outbox), custody.NewJournal(cfg.CustodyJournal), logger)
	if err := engine.Restore(state.Pools, state.Escrows); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	server := api.NewServer(engine, api.NewMetrics(), logger)
	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("serve start",
		zap.String("listen", cfg.Listen),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Int("pools", len(state.Pools)),
		zap.Int("pending_escrows", len(state.Escrows)),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// openStore selects the persistence backend and loads its current state.
func openStore(ctx context.Context, pgDSN, stateFile string) (settle.Store, storage.State, func(), error) {
	if pgDSN != "" {
		pg, err := postgres.NewStore(ctx, pgDSN)
		if err != nil {
			return nil, storage.State{}, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, storage.State{}, nil, fmt.Errorf("ensure schema: %w", err)
		}
		state, err := pg.LoadState(ctx)
		if err != nil {
			pg.Close()
			return nil, storage.State{}, nil, fmt.Errorf("load state: %w", err)
		}
		return pg, state, pg.Close, nil
	}

	fs := storage.NewFileStore(stateFile)
	state, err := fs.Load(ctx)
	if err != nil {
		return nil, storage.State{}, nil, fmt.Errorf("load state: %w", err)
	}
	return fs, state, func() {}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
