// Command prospect runs the lead management service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"prospect/cmd/prospect/cli"
	"prospect/internal/auth"
	"prospect/internal/config"
	"prospect/internal/home"
	"prospect/internal/indexer"
	"prospect/internal/query"
	"prospect/internal/scheduler"
	"prospect/internal/server"
	"prospect/internal/store"
	storefirestore "prospect/internal/store/firestore"
	storememory "prospect/internal/store/memory"
	"prospect/internal/trigger"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	rootCmd := &cobra.Command{
		Use:   "prospect",
		Short: "Lead management service with denormalized search",
	}
	rootCmd.PersistentFlags().String("config", "", "config file path (default: <config-dir>/prospect/prospect.json)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prospect service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := resolveConfigPath(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, cfgPath, addr)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address override (host:port)")

	tokenCmd := &cobra.Command{
		Use:   "token [caller]",
		Short: "Issue a maintenance token from the configured secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := resolveConfigPath(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("no auth secret configured in %s", cfgPath)
			}
			caller := "ops"
			if len(args) == 1 {
				caller = args[0]
			}
			tokens := auth.NewTokenService([]byte(cfg.Auth.Secret), time.Duration(cfg.Auth.TokenLifetime))
			tok, expires, err := tokens.Issue(caller, "admin")
			if err != nil {
				return err
			}
			fmt.Println(tok)
			fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd, cli.NewSearchCommand(), cli.NewRebuildCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath honors the --config flag, falling back to the
// platform home directory.
func resolveConfigPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	hd, err := home.Default()
	if err != nil {
		return "", err
	}
	return hd.ConfigPath(), nil
}

func run(ctx context.Context, logger *slog.Logger, cfgPath, addrOverride string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Stable instance identity for log correlation across restarts.
	if hd := home.New(filepath.Dir(cfgPath)); hd.EnsureExists() == nil {
		if id, err := hd.InstanceID(); err == nil {
			logger = logger.With("instance", id)
		}
	}
	addr := cfg.Listen
	if addrOverride != "" {
		addr = addrOverride
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	maintainer := trigger.NewMaintainer(st, indexer.New(), logger)
	bound := maintainer.Bind(ctx)
	logger.Info("index maintainer ready", "bound", bound)

	planner := query.New(st, logger,
		query.WithPageSize(cfg.Search.PageSize),
		query.WithCacheSize(cfg.Search.CacheSize))

	var tokens *auth.TokenService
	if cfg.Auth.Secret != "" {
		tokens = auth.NewTokenService([]byte(cfg.Auth.Secret), time.Duration(cfg.Auth.TokenLifetime))
	} else {
		logger.Warn("no auth secret configured; maintenance endpoints disabled")
	}

	srv := server.New(st, maintainer, bound, planner, server.Config{
		Logger:        logger,
		Tokens:        tokens,
		RatePerSecond: cfg.Rate.PerSecond,
		RateBurst:     cfg.Rate.Burst,
	})

	if cfg.Sweep.Schedule != "" {
		sweeper, err := scheduler.New(maintainer, logger)
		if err != nil {
			return err
		}
		if err := sweeper.Schedule(cfg.Sweep.Schedule); err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			if err := sweeper.Stop(); err != nil {
				logger.Warn("sweeper shutdown", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeTCP(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// openStore builds the configured store backend. The returned closer is
// a no-op for the memory backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Info("using in-memory store; data will not survive restart")
		return storememory.New(), func() {}, nil
	case config.BackendFirestore:
		fs, err := storefirestore.New(ctx, storefirestore.Options{
			ProjectID:       cfg.Store.ProjectID,
			CredentialsFile: cfg.Store.CredentialsFile,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {
			if err := fs.Close(); err != nil {
				logger.Warn("store close", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
