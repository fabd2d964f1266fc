// Package server provides HTTP server initialization and lifecycle management
// for the relkit API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/relkit/relkit/internal/config"
	"github.com/relkit/relkit/internal/kernel"
	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/internal/storage/memstore"
	"github.com/relkit/relkit/internal/storage/postgres"
	"github.com/relkit/relkit/internal/storage/sqlite"
	"github.com/relkit/relkit/web/handlers"
)

// OpenStore builds the relation store selected by the configuration.
// When the circuit breaker is enabled the store is wrapped in a BreakerStore.
func OpenStore(cfg *config.Config) (storage.RelationStore, error) {
	var (
		store storage.RelationStore
		err   error
	)

	switch cfg.Storage.Engine {
	case "memory":
		store = memstore.New()
	case "sqlite":
		if mkErr := os.MkdirAll(cfg.Storage.DataPath, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create data directory: %w", mkErr)
		}
		store, err = sqlite.NewRelationStore(filepath.Join(cfg.Storage.DataPath, "relkit.db"))
	case "postgres":
		store, err = postgres.NewRelationStore(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Storage.BreakerEnabled {
		store = storage.NewBreakerStore(store)
	}
	return store, nil
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0) and the WebSocketHub for lifecycle inspection. The server shuts
// down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, store storage.RelationStore) (string, *handlers.WebSocketHub, error) {
	k, err := kernel.New(store,
		kernel.WithConfig(kernel.Config{
			RuptureThreshold:   cfg.Kernel.RuptureThreshold,
			SignalHistoryLimit: cfg.Kernel.SignalHistoryLimit,
		}),
	)
	if err != nil {
		return "", nil, fmt.Errorf("create kernel: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// WebSocket hub broadcasts every rupture signal to connected clients.
	wsHub := handlers.NewWebSocketHub(addr)
	wsHub.AttachBus(k.Bus())
	go wsHub.Run()

	rateLimiter := handlers.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)

	relationHandlers := handlers.NewRelationHandlers(k, cfg)

	// API routes (require auth in production mode).
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/relations/{id}/risk", relationHandlers.ComputeRisk)
	apiMux.HandleFunc("POST /api/relations/{id}/signal", relationHandlers.EmitSignal)
	apiMux.HandleFunc("GET /api/relations/{id}/gate", relationHandlers.GateCheck)
	apiMux.HandleFunc("POST /api/relations/{id}/repair", relationHandlers.AcknowledgeRepair)
	apiMux.HandleFunc("GET /api/relations/{id}/status", relationHandlers.Status)
	apiMux.HandleFunc("DELETE /api/relations/{id}", relationHandlers.Delete)
	apiMux.HandleFunc("GET /api/relations", relationHandlers.List)

	mux := http.NewServeMux()
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))
	mux.HandleFunc("GET /api/health", relationHandlers.Health)
	mux.Handle("/ws", wsHub)

	// Wrap entire server with rate limiting, then security headers.
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = handlers.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		wsHub.Stop()
		return "", nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub, nil
}
