// Package health serves the probe, version and metrics endpoints of healthd.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker defines the interface for dependency health checks.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Health implements Checker.
func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// Dependency is a named health check. Non-critical failures degrade the
// response without failing readiness.
type Dependency struct {
	Name     string
	Checker  Checker
	Critical bool
}

// Config contains configuration for the handler.
type Config struct {
	Service      string
	Version      string
	GitCommit    string
	Dependencies []Dependency
	Gatherer     prometheus.Gatherer
	MetricsPath  string
}

// Handler handles health check endpoints.
type Handler struct {
	cfg Config
}

// NewHandler creates a new Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Handler{cfg: cfg}
}

// Response represents the health check response.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	Service   string `json:"service"`
}

// Routes returns a mux serving /healthz, /readyz, /version and the metrics path.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Liveness)
	mux.HandleFunc("GET /readyz", h.Readiness)
	mux.HandleFunc("GET /version", h.Version)
	mux.Handle("GET "+h.cfg.MetricsPath, promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Liveness returns 200 while the process is running.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Status: "ok"})
}

// Readiness returns 200 when every critical dependency is healthy.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.cfg.Dependencies))
	status, httpStatus := "ok", http.StatusOK

	deps := append([]Dependency(nil), h.cfg.Dependencies...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	for _, d := range deps {
		if err := d.Checker.Health(ctx); err != nil {
			checks[d.Name] = "unhealthy: " + err.Error()
			status = "degraded"
			if d.Critical {
				httpStatus = http.StatusServiceUnavailable
			}
			continue
		}
		checks[d.Name] = "healthy"
	}

	writeJSON(w, httpStatus, Response{Status: status, Checks: checks})
}

// Version handles the version endpoint.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version:   h.cfg.Version,
		GitCommit: h.cfg.GitCommit,
		Service:   h.cfg.Service,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
