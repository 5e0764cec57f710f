package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/pdf-tools-mcp/internal/config"
	"github.com/ironsheep/pdf-tools-mcp/internal/engine/mupdf"
	"github.com/ironsheep/pdf-tools-mcp/internal/imaging"
	"github.com/ironsheep/pdf-tools-mcp/internal/metrics"
	"github.com/ironsheep/pdf-tools-mcp/internal/ocr"
	"github.com/ironsheep/pdf-tools-mcp/internal/server"
	"github.com/ironsheep/pdf-tools-mcp/internal/session"
	"github.com/ironsheep/pdf-tools-mcp/internal/source"
)

func loadConfig(flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func runServe(ctx context.Context, flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// Logging goes to stderr; stdout carries the protocol.
	log, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	background, err := imaging.ParseBackground(cfg.RenderBackground)
	if err != nil {
		return fmt.Errorf("render_background: %w", err)
	}
	cache, err := imaging.NewRenderCache(cfg.RenderCacheSize)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	store := session.New(
		session.WithLogger(log),
		session.WithRemoveHook(cache.Forget),
		session.WithSizeObserver(m.SetOpenDocuments),
	)
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close documents")
		}
	}()

	srv, err := server.New(store, source.NewResolver(mupdf.New(), cfg.MaxInlineBytes, log),
		server.WithLogger(log),
		server.WithRenderCache(cache),
		server.WithMetrics(m),
		server.WithBackground(background),
		server.WithMaxRenderScale(cfg.MaxRenderScale),
		server.WithMaxConcurrentCalls(cfg.MaxConcurrentCalls),
		server.WithMaxMessageBytes(int(cfg.MaxInlineBytes/3*4)+(1<<20)),
		server.WithOCROptions(ocr.Options{Language: cfg.OCRLanguage, TessdataPrefix: cfg.TessdataPrefix}),
		server.WithVersion(Version),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.WithFields(logrus.Fields{
		"version":      Version,
		"idle_timeout": cfg.IdleTimeout,
		"render_cache": cfg.RenderCacheSize,
		"concurrency":  cfg.MaxConcurrentCalls,
	}).Info("pdf-tools-mcp starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// End of input stops the janitor and the metrics endpoint too.
		defer cancel()
		return srv.Run(gctx, os.Stdin, os.Stdout)
	})
	if cfg.IdleTimeout > 0 {
		g.Go(func() error {
			store.RunJanitor(gctx, cfg.IdleTimeout, cfg.SweepInterval)
			return nil
		})
	}
	if m != nil {
		g.Go(func() error {
			return m.Serve(gctx, cfg.MetricsAddr, log)
		})
	}

	err = g.Wait()
	log.Info("pdf-tools-mcp stopped")
	return err
}
