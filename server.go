package locationtracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theoremus-urban-solutions/location-tracking/tracking"
)

// ShutdownTimeout bounds graceful server shutdown.
const ShutdownTimeout = 10 * time.Second

// Server exposes an App over HTTP.
type Server struct {
	app    *App
	server *http.Server
	log    *slog.Logger
}

// NewServer builds the HTTP surface for app, listening on port.
func NewServer(app *App, port int) *Server {
	s := &Server{app: app, log: app.log.With("component", "http")}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tracking", s.handleStatus)
	mux.HandleFunc("POST /api/tracking/start", s.handleStart)
	mux.HandleFunc("POST /api/tracking/stop", s.handleStop)
	mux.HandleFunc("GET /api/logs", s.handleGetLogs)
	mux.HandleFunc("DELETE /api/logs", s.handleClearLogs)
	mux.HandleFunc("GET /api/logs/export", s.handleExport)
	mux.HandleFunc("GET /api/live", s.handleLive)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// ListenAndServe blocks until the server stops. A graceful shutdown is
// not an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// up to ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("server shut down successfully")
	return nil
}

type statusResponse struct {
	State      string `json:"state"`
	Tracking   bool   `json:"tracking"`
	Interval   string `json:"interval"`
	Accuracy   string `json:"accuracy"`
	Background bool   `json:"enable_background_tracking"`
	LogsLocal  bool   `json:"log_internally"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) status() statusResponse {
	opts := s.app.Options()
	return statusResponse{
		State:      s.app.State().String(),
		Tracking:   s.app.IsTracking(),
		Interval:   opts.Interval.String(),
		Accuracy:   opts.Accuracy.String(),
		Background: opts.BackgroundEnabled,
		LogsLocal:  opts.LogInternally,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Start(r.Context()); err != nil {
		s.log.Warn("start failed", "error", err)
		writeJSON(w, startErrorStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, tracking.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, tracking.ErrRegistrationFailed):
		return http.StatusBadGateway
	case errors.Is(err, tracking.ErrSessionStopping), errors.Is(err, tracking.ErrStartAborted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Stop(r.Context()); err != nil {
		s.log.Warn("stop failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	locs, err := s.app.GetAllLogs()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ClearLogs(); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	switch format := r.URL.Query().Get("format"); format {
	case "gtfsrt":
		data, err := s.app.ExportGTFSRT()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Header().Set("Content-Disposition", `attachment; filename="tracked_locations.pb"`)
		_, _ = w.Write(data)
	case "", "json":
		path := s.app.ExportLogs()
		if _, err := os.Stat(path); err != nil {
			// Nothing recorded yet.
			writeJSON(w, http.StatusOK, []tracking.TrackedLocation{})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="tracked_locations.json"`)
		http.ServeFile(w, r, path)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unsupported format %q", format)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
