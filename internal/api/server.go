// Package api is the gateway's thin HTTP adapter: it derives a principal
// from inbound proxy requests and hands them to the signed proxy service,
// and answers health/readiness/info/metrics probes. No other core
// operation is routed here.
// Authentication and routing frameworks are explicitly out of scope
// (spec.md's Non-goals) — principal extraction here is a minimal
// header contract, following the teacher's pkg/api.Server shape.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudpaste/cloudpaste/internal/health"
	"github.com/cloudpaste/cloudpaste/internal/proxy"
	"github.com/cloudpaste/cloudpaste/pkg/logging"
	"github.com/cloudpaste/cloudpaste/pkg/types"
)

// Config configures the adapter, mirroring the teacher's ServerConfig
// shape (address/timeouts/CORS) narrowed to what this gateway serves.
type Config struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	EnableCORS   bool          `yaml:"enableCors"`
	ProxyPrefix  string        `yaml:"proxyPrefix"`
}

// DefaultConfig returns sane defaults for local/dev use.
func DefaultConfig() Config {
	return Config{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		EnableCORS:   false,
		ProxyPrefix:  "/p",
	}
}

// Server hosts the health/readiness/metrics probes and mounts the signed
// proxy (§4.5) behind ProxyPrefix.
type Server struct {
	httpServer *http.Server
	checker    *health.Checker
	cfg        Config
	version    string
}

// NewServer builds the mux and wraps it in an *http.Server bound to
// cfg.Address. checker and proxySvc may be nil (health/proxy endpoints
// degrade gracefully, matching the teacher's optional-tracker pattern).
func NewServer(cfg Config, checker *health.Checker, proxySvc *proxy.Service, version string) *Server {
	s := &Server{checker: checker, cfg: cfg, version: version}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)
	mux.HandleFunc("/info", s.handleInfo)
	mux.Handle("/metrics", promhttp.Handler())

	if proxySvc != nil {
		prefix := cfg.ProxyPrefix
		if prefix == "" {
			prefix = "/p"
		}
		mux.HandleFunc(prefix+"/", func(w http.ResponseWriter, r *http.Request) {
			proxySvc.ServeHTTP(w, r, prefix, principalFromRequest(r))
		})
	}

	var handler http.Handler = s.loggingMiddleware(mux)
	if cfg.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// ListenAndServe blocks serving the adapter; call from a goroutine to run
// it alongside the job engine and scheduler.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// principalFromRequest builds a types.Principal from the minimal header
// contract this adapter accepts in place of real authentication
// (spec.md's Non-goals: "Authentication and password storage ... a
// Principal ... is an input to the core"). An upstream gateway or sidecar
// that performs real auth is expected to set these headers; absent them,
// the request is treated as anonymous.
func principalFromRequest(r *http.Request) types.Principal {
	pType := types.PrincipalType(r.Header.Get("X-Principal-Type"))
	switch pType {
	case types.PrincipalAdmin, types.PrincipalAPIKey, types.PrincipalAnon:
	default:
		pType = types.PrincipalAnon
	}

	var perms []string
	if raw := r.Header.Get("X-Principal-Permissions"); raw != "" {
		perms = strings.Split(raw, ",")
	}

	return types.Principal{
		Type:            pType,
		ID:              r.Header.Get("X-Principal-Id"),
		Permissions:     perms,
		AllowedBasePath: r.Header.Get("X-Principal-Base-Path"),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": health.StatusUnknown})
		return
	}
	status := s.checker.NewServiceStatus(s.version, nil)
	code := http.StatusOK
	switch status.Status {
	case health.StatusUnhealthy:
		code = http.StatusServiceUnavailable
	case health.StatusDegraded:
		code = http.StatusPartialContent
	}
	writeJSON(w, code, status)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"alive": true, "timestamp": time.Now()})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil || s.checker.IsHealthy() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ready": true})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"ready": false})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "cloudpaste",
		"version": s.version,
		"endpoints": []string{
			"/health", "/health/live", "/health/ready", "/info", "/metrics", s.cfg.ProxyPrefix + "/*",
		},
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	logger := logging.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("request handled")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
