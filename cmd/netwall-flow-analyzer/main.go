// netwall-flow-analyzer is the single-process NetWall Flow Analyzer: a
// UDP syslog receiver, file-import pipeline, and analytical HTTP API over
// one PostgreSQL database.
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
	"github.com/spf13/viper"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/classify"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/firewallid"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/graph"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/httpapi"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/identity"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/importer"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/jobs"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/logging"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/parser"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/reconstruct"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/settings"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/stats"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/store"
	"github.com/telhawk-systems/netwall-flow-analyzer/internal/syslogudp"
)

func main() {
	var configPath string

	v := viper.New()
	root := &cobra.Command{
		Use:          "netwall-flow-analyzer",
		Short:        "Clavister NetWall firewall log analyzer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	config.BindFlags(root, v)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logging.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("--database-url is required")
	}

	logger.Info("applying migrations")
	if err := store.Migrate(cfg.DatabaseURL, "migrations"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	counters := stats.New()
	p := parser.New(cfg.YearMode)
	recon := reconstruct.New(db, logger)
	idn := identity.New(db)
	classifier := classify.New(db)
	engine := graph.New(db, classifier, cfg.ClassificationPrecedence)
	setStore := settings.New(db)
	fwid := firewallid.New(db)
	pipeline := importer.NewPipeline(db, p, recon, idn, counters, logger)
	imp := importer.New(db, pipeline, cfg.ImportStagingDir, logger)

	mgr := jobs.NewManager(db, logger, counters)
	mgr.RegisterRunner(jobs.KindImport, imp.Run)
	mgr.RegisterRunner(jobs.KindPurge, settings.NewPurge(db, logger).Run)
	mgr.RegisterRunner(jobs.KindCleanup, settings.NewCleanup(db, setStore, logger).Run)
	if err := mgr.RecoverCrashed(ctx); err != nil {
		return err
	}
	go mgr.Run(ctx)
	go settings.RunDailyCleanup(ctx, mgr, logger)

	receiver := syslogudp.New(cfg.SyslogAddr(), counters, logger)
	ingestor := syslogudp.NewIngestor(db, p, pipeline, fwid, logger)
	go func() {
		logger.Info("syslog receiver listening", "addr", cfg.SyslogAddr())
		if err := receiver.Serve(ctx, ingestor.HandleBatch); err != nil {
			logger.Error("syslog receiver failed", logging.Err(err))
			stop()
		}
	}()

	h := httpapi.New(db, mgr, setStore, engine, imp, counters, logger)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      httpapi.NewRouter(h, cfg.ServeFrontend, cfg.FrontendDir),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", logging.Err(err))
	}
	return nil
}
