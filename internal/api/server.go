// =============================================================================
// Tally Sync - HTTP API
// =============================================================================
//
// A thin JSON surface over the sync pipeline and the target store. Every
// response uses the same envelope:
//
//   {"success": true,  "data": {...}}
//   {"success": false, "error": "message"}
//
// ENDPOINTS:
//   GET  /api/v1/health
//   POST /api/v1/sync/{company}/{division}
//   GET  /api/v1/metadata/{company}/{division}
//   PUT  /api/v1/metadata/{company}/{division}
//   GET  /api/v1/sync-status/{company}/{division}
//   GET  /api/v1/stats/{company}/{division}
//   GET  /api/v1/records/{table}/{company}/{division}
//   POST /api/v1/bulk-sync/{company}/{division}
//   POST /api/v1/batch/{company}/{division}
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ginjaninja78/tally-sync/internal/logging"
	"github.com/ginjaninja78/tally-sync/internal/store"
	"github.com/ginjaninja78/tally-sync/internal/syncer"
	"github.com/ginjaninja78/tally-sync/internal/types"
)

// Runner starts sync runs and knows the configured tables.
type Runner interface {
	Run(ctx context.Context, req syncer.Request) (syncer.Summary, error)
	Tables() []types.TableSpec
	Table(name string) (types.TableSpec, bool)
}

// Store is the persistence the API reads and writes directly.
type Store interface {
	store.Reader
	store.Writer
}

// Server routes API requests.
type Server struct {
	runner  Runner
	store   Store
	engine  *store.Engine
	logger  *slog.Logger
	version string
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a Server. engine handles bulk-sync uploads and should write
// to st.
func New(runner Runner, st Store, engine *store.Engine, opts ...Option) *Server {
	s := &Server{
		runner:  runner,
		store:   st,
		engine:  engine,
		logger:  logging.Discard(),
		version: "dev",
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/sync/{company}/{division}", s.handleSync)
	s.mux.HandleFunc("GET /api/v1/metadata/{company}/{division}", s.handleGetMetadata)
	s.mux.HandleFunc("PUT /api/v1/metadata/{company}/{division}", s.handlePutMetadata)
	s.mux.HandleFunc("GET /api/v1/sync-status/{company}/{division}", s.handleSyncStatus)
	s.mux.HandleFunc("GET /api/v1/stats/{company}/{division}", s.handleStats)
	s.mux.HandleFunc("GET /api/v1/records/{table}/{company}/{division}", s.handleRecords)
	s.mux.HandleFunc("POST /api/v1/bulk-sync/{company}/{division}", s.handleBulkSync)
	s.mux.HandleFunc("POST /api/v1/batch/{company}/{division}", s.handleBatch)
}

// ServeHTTP logs and dispatches a request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Info("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("api listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func tenantOf(r *http.Request) types.Tenant {
	return types.Tenant{
		CompanyID:  r.PathValue("company"),
		DivisionID: r.PathValue("division"),
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
