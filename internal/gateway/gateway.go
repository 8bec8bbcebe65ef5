// ABOUTME: Gateway orchestrator that owns the HTTP server and request routing.
// ABOUTME: Manages the health endpoint, CORS, and graceful shutdown lifecycle.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/magi-system/magi-bridge/internal/config"
	"github.com/magi-system/magi-bridge/internal/store"
	"github.com/magi-system/magi-bridge/internal/supervisor"
	"github.com/magi-system/magi-bridge/internal/timeout"
)

// Gateway coordinates the HTTP surface of the bridge. Each decision request
// gets its own Process Supervisor; the only state shared across requests is
// the immutable timeout policy and the trace store.
type Gateway struct {
	config     *config.Config
	policy     timeout.Policy
	traces     store.TraceStore
	httpServer *http.Server
	logger     *slog.Logger
	startTime  time.Time
}

// New creates a Gateway instance with the given configuration, resolved
// timeout policy, and trace store. The trace store may be nil, in which case
// traces are not persisted and the traces API reports empty.
func New(cfg *config.Config, policy timeout.Policy, traces store.TraceStore, logger *slog.Logger) *Gateway {
	g := &Gateway{
		config:    cfg,
		policy:    policy,
		traces:    traces,
		logger:    logger.With("component", "gateway"),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/decision", g.handleDecision)
	mux.HandleFunc("/api/traces", g.handleTraces)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// newSupervisor builds the per-request Process Supervisor. Instances are
// never shared between requests.
func (g *Gateway) newSupervisor() *supervisor.Supervisor {
	return supervisor.New(supervisor.Config{
		Interpreter: g.config.Worker.Interpreter,
		Script:      g.config.Worker.Script,
	}, g.policy, g.logger.With("component", "supervisor"))
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}

// Shutdown gracefully stops the HTTP server and closes the trace store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if g.traces != nil {
		if err := g.traces.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing trace store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// handleHealth is the platform liveness probe. It is synchronous,
// dependency-free, and never touches the Process Supervisor.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(g.startTime).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// corsMiddleware opens CORS for every route and short-circuits preflight.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
