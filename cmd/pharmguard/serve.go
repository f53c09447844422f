package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/duckdb"
	"github.com/inodb/pharmguard/internal/metrics"
	"github.com/inodb/pharmguard/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Example: `  pharmguard serve
  pharmguard serve --addr :8080
  PHARMGUARD_EXPLAIN_MODE=openai OPENAI_API_KEY=... pharmguard serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from server.addr)")
	cmd.Flags().String("store", "", "DuckDB report store path, or :memory: (default from store.path)")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("store.path", cmd.Flags().Lookup("store"))

	return cmd
}

func runServe(cmd *cobra.Command, a *app) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.NewManager()
	analyzer, sources, err := newAnalyzer(cfg, logger, m)
	if err != nil {
		return err
	}

	opts := server.Options{
		Config:   cfg,
		Analyzer: analyzer,
		Metrics:  m,
		Logger:   logger,
		Version:  version,
		Tables:   sources,
	}
	if path, ok := cfg.StorePath(); ok {
		store, err := duckdb.Open(path)
		if err != nil {
			return fmt.Errorf("open report store: %w", err)
		}
		defer store.Close()
		opts.Store = store
		logger.Info("report store enabled", zap.String("path", cfg.Store.Path))
	}

	logger.Info("starting pharmguard",
		zap.String("version", version),
		zap.String("phenotype_table", sources.Phenotype),
		zap.String("rule_table", sources.Rules),
		zap.String("explain_mode", cfg.Explain.Mode),
		zap.Strings("drugs", cfg.Analysis.Drugs))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(opts).Run(ctx)
}
