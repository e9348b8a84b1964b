package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quill-chat/quill/internal/api"
	"github.com/quill-chat/quill/internal/app"
	"github.com/quill-chat/quill/internal/config"
	"github.com/quill-chat/quill/internal/log"
	"github.com/quill-chat/quill/internal/rag"
)

// Server timeout configuration. The write timeout covers SSE
// streaming, so it is generous.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes the application and starts the HTTP server.
func runServe(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	addr, err := parseServeAddr(serveArgs())
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting HTTP server", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Flow:         a.Flow,
		Titles:       a.Agent,
		SessionStore: a.Sessions,
		Searcher:     a.Knowledge,
		Indexer:      a.Indexer,
		Pool:         a.Pool,
		DocsDir:      cfg.DocsDir,
		ModelName:    cfg.ModelName,
		CORSOrigins:  cfg.CORSOrigins,
		IsDev:        cfg.PostgresSSLMode == "disable",
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
		ServeUI:      true,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.WatchDocs {
		watcher, err := rag.NewWatcher(a.Indexer, cfg.DocsDir, rag.DefaultDebounce, logger)
		if err != nil {
			return fmt.Errorf("creating docs watcher: %w", err)
		}
		group.Go(func() error {
			return watcher.Run(groupCtx)
		})
		logger.Info("watching docs directory", "dir", cfg.DocsDir)
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-groupCtx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
	case err := <-errCh:
		cancel()
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTP server: %w", err)
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("docs watcher stopped", "error", err)
	}
	return serveErr
}

// serveArgs returns the arguments following "quill serve".
func serveArgs() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}
