package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/alimasry/go-doc-viewer/config"
	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/render"
	"github.com/alimasry/go-doc-viewer/server"
	"github.com/alimasry/go-doc-viewer/store"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("config: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		config.Exitf("config: log level: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	cache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	go store.Sweep(ctx, cache, cfg.Retention, cfg.SweepInterval, logger)

	var fetcher fetch.Fetcher = fetch.NewHTTPFetcher(fetch.HTTPConfig{
		Client:      &http.Client{Timeout: cfg.FetchTimeout},
		MaxAttempts: cfg.FetchAttempts,
		Backoff:     cfg.FetchBackoff,
		MaxBytes:    cfg.FetchMaxBytes,
		Logger:      logger,
	})
	if cfg.GCSEnabled {
		gcs, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("storage.NewClient: %w", err)
		}
		defer gcs.Close()
		router := fetch.NewRouter(fetcher)
		router.Handle("gs", fetch.NewGCSFetcher(gcs, cfg.FetchMaxBytes))
		fetcher = router
	}
	loader := fetch.NewLoader(fetcher, cache, logger)
	defer loader.Wait()

	sources, err := cfg.Sources()
	if err != nil {
		return err
	}
	hub := server.NewHub(server.HubConfig{
		Loader:        loader,
		Engine:        render.NewPDFEngine(),
		Gesture:       cfg.Gesture(),
		SourceBaseURL: cfg.SourceBaseURL,
		Sources:       sources,
		Logger:        logger,
	})
	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewHandler(hub, cfg.StaticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "cache", cfg.CacheDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openCache builds the document cache selected by cfg. The returned close
// function flushes and releases it.
func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.DocumentCache, func(), error) {
	opts := []store.Option{store.WithLogger(logger), store.WithMaxBytes(cfg.MemoryMaxBytes)}

	var backing store.DocumentCache
	closeBacking := func() {}
	switch cfg.CacheDriver {
	case config.CacheMemory:
		return store.NewMemoryStore(opts...), func() {}, nil
	case config.CacheSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create cache dir: %w", err)
		}
		s, err := store.OpenSQLite(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, nil, err
		}
		backing = s
		closeBacking = func() { s.Close() }
	case config.CacheFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		backing = store.NewFirestoreStore(client, cfg.FirestoreCollection, opts...)
		closeBacking = func() { client.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}

	if !cfg.MemoryTier {
		return backing, closeBacking, nil
	}
	cached := store.NewCachedStore(backing, cfg.FlushInterval, opts...)
	return cached, func() {
		cached.Close()
		closeBacking()
	}, nil
}
