// Package app wires the configured webindex.Store behind a single HTTP
// server: insert, query and defragment endpoints, a health check, and
// graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	httpapi "github.com/webindex/webindex/internal/api/http"
	"github.com/webindex/webindex/internal/config"
	"github.com/webindex/webindex/internal/server"
	"github.com/webindex/webindex/pkg/webindex"
)

// App owns the HTTP server and the underlying Store for one process
// lifetime.
type App struct {
	cfg   *config.Config
	store webindex.Store

	shutdown *server.ShutdownManager
	graceful *server.GracefulHTTPServer

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates an App from cfg, validating it up front.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start wires the Store and begins serving HTTP. It returns once the
// listener is up; call WaitForShutdown to block until Stop or a signal
// ends the process.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	store, err := webindex.New(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	a.store = store

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.shutdown.OnShutdownStart(func() {
		log.Printf("initiating graceful shutdown, in-flight requests=%d", a.shutdown.InFlightCount())
	})
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		for kind, stats := range a.store.Stats() {
			log.Printf("final stats kind=%s count=%d found=%d errors=%d mean_latency=%s",
				kind, stats.Count, stats.Found, stats.Errors, stats.MeanLatency())
		}
		return nil
	}))

	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.CorrelationIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)
	mux.Handle("/v1/insert", middleware(httpapi.NewIngestHandler(store)))
	mux.Handle("/v1/query", middleware(httpapi.NewQueryHandler(store)))
	mux.Handle("/v1/defragment", middleware(httpapi.NewDefragmentHandler(store)))
	mux.HandleFunc("/health", a.healthHandler())

	httpSrv := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	a.graceful = server.NewGracefulHTTPServer(httpSrv, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("webindex listening on %s", a.cfg.Addr)
		if err := a.graceful.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	return nil
}

// Stop initiates graceful shutdown: it stops accepting new requests,
// drains in-flight ones, and runs every registered closer (including
// the final stats-summary log line registered in Start).
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.shutdown.Shutdown(shutdownCtx, "stop requested"); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("shutdown timeout, some goroutines may not have finished")
	}

	log.Printf("webindex stopped")
	return nil
}

// WaitForShutdown blocks until a termination signal arrives or ctx is
// cancelled, then drains and closes everything registered in Start.
func (a *App) WaitForShutdown(ctx context.Context) error {
	if err := a.shutdown.ListenForSignals(ctx); err != nil {
		return err
	}
	return a.Stop(context.Background())
}

// Store returns the App's underlying Store, for CLI entrypoints that
// want to share one App's wiring without going through HTTP.
func (a *App) Store() webindex.Store {
	return a.store
}

func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"healthy","service":"webindex"}`)
	}
}
