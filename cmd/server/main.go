// Package main is the entry point for the lake catalog server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lake-catalog/internal/app"
	"lake-catalog/internal/config"
	internaldb "lake-catalog/internal/db"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles what every subcommand needs after config is loaded.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	pools  *internaldb.Pools
}

func newRootCmd() *cobra.Command {
	var envFile string
	rt := &runtime{}

	rootCmd := &cobra.Command{
		Use:           "lake-catalog",
		Short:         "Lake table catalog server",
		Long:          "Catalog server for lake tables with hierarchical authorization and vended storage credentials.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.logger = newLogger(cfg)
			slog.SetDefault(rt.logger)
			for _, w := range cfg.Warnings {
				rt.logger.Warn(w)
			}

			pools, err := internaldb.Open(cmd.Context(), cfg.DBDriver, cfg.DBDSN, cfg.DBMaxOpenConns)
			if err != nil {
				return fmt.Errorf("open catalog database: %w", err)
			}
			pools.AcquireTimeout = cfg.DBAcquireTimeout
			rt.pools = pools
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional KEY=VALUE file loaded before the environment")

	rootCmd.AddCommand(newServeCmd(rt), newMigrateCmd(rt), newBootstrapCmd(rt))
	return rootCmd
}

func (rt *runtime) close() {
	if rt.pools == nil {
		return
	}
	if err := rt.pools.Close(); err != nil {
		rt.logger.Warn("close catalog database", "error", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newServeCmd(rt *runtime) *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer rt.close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !skipMigrations {
				if err := migrate(rt); err != nil {
					return err
				}
			}
			a, err := app.New(ctx, app.Deps{Cfg: rt.cfg, Pools: rt.pools, Logger: rt.logger})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if rt.cfg.BootstrapFile != "" {
				if err := applyBootstrap(ctx, a, rt.cfg.BootstrapFile); err != nil {
					return err
				}
			}

			srv := &http.Server{
				Addr:              rt.cfg.ListenAddr,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return a.Serve(ctx, srv)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending schema migrations on start")
	return cmd
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending catalog schema migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			defer rt.close()
			return migrate(rt)
		},
	}
}

func newBootstrapCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <file>",
		Short: "Create the projects, warehouses, namespaces, and grants declared in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer rt.close()
			if err := migrate(rt); err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), app.Deps{Cfg: rt.cfg, Pools: rt.pools, Logger: rt.logger})
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck
			return applyBootstrap(cmd.Context(), a, args[0])
		},
	}
}

func migrate(rt *runtime) error {
	if err := internaldb.RunMigrations(rt.pools.Write, rt.pools.Dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	v, err := internaldb.MigrationVersion(rt.pools.Write, rt.pools.Dialect)
	if err != nil {
		return fmt.Errorf("migration version: %w", err)
	}
	rt.logger.Info("catalog schema up to date", "version", v, "dialect", rt.pools.Dialect)
	return nil
}

func applyBootstrap(ctx context.Context, a *app.App, path string) error {
	b, err := app.LoadBootstrap(path)
	if err != nil {
		return err
	}
	return a.ApplyBootstrap(ctx, b)
}
