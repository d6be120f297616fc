package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"edgeworker/internal/edgeworker"
	"edgeworker/internal/logging"
	"edgeworker/internal/metatags"
	"edgeworker/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("EDGEWORKER_CONFIG", "/edgeworker.yaml"), "path to edgeworker.yaml")
	flag.Parse()

	cfg, err := edgeworker.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("edgeworker stopped", zap.Error(err))
	}
}

func run(cfg edgeworker.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := edgeworker.OpenStorage(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("open cache storage: %w", err)
	}
	svc, err := edgeworker.NewService(cfg, storage, logger)
	if err != nil {
		_ = storage.Close()
		return fmt.Errorf("init service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close service", zap.Error(err))
		}
	}()

	meta, closeMeta, err := newRenderer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMeta()

	if err := svc.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	purged, err := svc.Activate(ctx)
	if err != nil {
		// Activation has already taken effect; only the purge failed.
		logger.Warn("purge stale cache namespaces", zap.Strings("purged", purged), zap.Error(err))
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           server.New(svc.Handler(), meta, svc, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("edgeworker listening",
			zap.String("addr", addr),
			zap.String("origin", cfg.Site.Origin),
			zap.String("upstream", cfg.Site.Upstream),
			zap.String("cache_backend", cfg.Cache.Backend))
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	return nil
}

// newRenderer builds the in-process meta tag renderer, or returns a nil
// handler when renderer.source is empty.
func newRenderer(ctx context.Context, cfg edgeworker.Config, logger *zap.Logger) (http.Handler, func(), error) {
	var (
		source  metatags.ArticleSource
		closeFn = func() {}
	)
	switch cfg.Renderer.Source {
	case "":
		return nil, closeFn, nil
	case "postgres":
		pg, err := metatags.NewPostgresSource(ctx, cfg.Renderer.DSN, cfg.Renderer.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("init article source: %w", err)
		}
		source, closeFn = pg, pg.Close
	case "file":
		fs, err := metatags.LoadFileSource(cfg.Renderer.File)
		if err != nil {
			return nil, nil, fmt.Errorf("init article source: %w", err)
		}
		source = fs
	}
	return metatags.NewRenderer(source, metatags.Config{
		SiteOrigin:         cfg.Site.Origin,
		SiteName:           cfg.Renderer.SiteName,
		DefaultImage:       cfg.Renderer.DefaultImage,
		DefaultDescription: cfg.Renderer.DefaultDescription,
	}, logger.Named("metatags")), closeFn, nil
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
