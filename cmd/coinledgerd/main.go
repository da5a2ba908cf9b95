package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quantbazaar/coinledger/internal/httpserver"
	"github.com/quantbazaar/coinledger/internal/market"
	"github.com/quantbazaar/coinledger/internal/oplog"
	"github.com/quantbazaar/coinledger/internal/store/gormstore"
	"github.com/quantbazaar/coinledger/internal/store/memstore"
	"github.com/quantbazaar/coinledger/internal/store/pgstore"
	"github.com/quantbazaar/coinledger/pkg/coinledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagDemoMode         = "demo"
	flagStoreBackend     = "store-backend"
	configKeyDatabaseURL = "database_url"
	configKeyListenAddr  = "listen_addr"
	configKeyOrigins     = "allowed_origins"
	defaultDatabaseURL   = "sqlite:///tmp/coinledger.db"
	defaultListenAddr    = ":8080"
	storeBackendGorm     = "gorm"
	storeBackendPgx      = "pgx"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins []string
	DemoMode       bool
	StoreBackend   string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "coinledgerd",
		Short:         "Coin ledger service for the strategy marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.PersistentFlags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.PersistentFlags().StringSlice(flagAllowedOrigins, []string{"http://localhost:3000"}, "CORS allowed origins")
	cmd.PersistentFlags().Bool(flagDemoMode, false, "run with the ledger-free in-memory store")
	cmd.PersistentFlags().String(flagStoreBackend, storeBackendGorm, "storage backend: gorm or pgx (pgx requires a postgres database-url)")

	cmd.AddCommand(newServeCommand(cfg))
	cmd.AddCommand(newReconcileCommand(cfg))
	cmd.AddCommand(newBackfillCommand(cfg))

	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the wallet HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func newReconcileCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Audit every wallet against its journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), cfg)
		},
	}
}

func newBackfillCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Migrate legacy balances into opening-balance transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), cfg)
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyListenAddr, "LISTEN_ADDR"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyOrigins)
	demo, err := cmd.Flags().GetBool(flagDemoMode)
	if err != nil {
		return err
	}
	cfg.DemoMode = demo
	backend, err := cmd.Flags().GetString(flagStoreBackend)
	if err != nil {
		return err
	}
	cfg.StoreBackend = backend
	return nil
}

func runServe(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ledgerService, cleanup, err := buildLedgerService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	flows, err := market.NewService(ledgerService)
	if err != nil {
		return fmt.Errorf("market service init: %w", err)
	}

	return httpserver.Run(ctx, httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger, ledgerService, flows)
}

func runReconcile(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ledgerService, cleanup, err := buildLedgerService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := ledgerService.ReconcileAllWallets(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	logger.Info("reconciliation complete",
		zap.Int("wallet_count", report.WalletCount),
		zap.Int("drift_count", report.DriftCount),
		zap.Int64("max_delta", report.MaxDelta),
	)
	for _, drift := range report.Drifts {
		logger.Warn("wallet drift",
			zap.String("wallet_id", drift.WalletID.String()),
			zap.String("user_id", drift.UserID.String()),
			zap.Int64("stored_balance", drift.StoredBalance),
			zap.Int64("journal_balance", drift.JournalBalance),
			zap.Int64("delta", drift.Delta),
		)
	}
	if report.DriftCount > 0 {
		return fmt.Errorf("reconciliation found %d drifted wallets", report.DriftCount)
	}
	return nil
}

func runBackfill(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ledgerService, cleanup, err := buildLedgerService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := ledgerService.BackfillOpeningBalances(ctx)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	logger.Info("opening-balance backfill complete",
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
	)
	return nil
}

func buildLedgerService(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*coinledger.Service, func(), error) {
	clock := func() int64 { return time.Now().UTC().Unix() }
	operationLogger := coinledger.WithOperationLogger(oplog.NewZapOperationLogger(logger))

	if cfg.DemoMode {
		service, err := coinledger.NewService(memstore.New(), clock, operationLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger service init: %w", err)
		}
		return service, func() {}, nil
	}

	if cfg.StoreBackend == storeBackendPgx {
		if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
			return nil, nil, fmt.Errorf("store backend %q requires a postgres database-url", storeBackendPgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		service, err := coinledger.NewService(pgstore.New(pool), clock, operationLogger)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ledger service init: %w", err)
		}
		return service, pool.Close, nil
	}
	if cfg.StoreBackend != "" && cfg.StoreBackend != storeBackendGorm {
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := prepareSchema(gormDB, driver); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	service, err := coinledger.NewService(gormstore.New(gormDB), clock, operationLogger)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("ledger service init: %w", err)
	}
	return service, func() { _ = cleanup() }, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "coinledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
