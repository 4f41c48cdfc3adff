// Package api exposes the operator HTTP surface: camera status,
// manual restarts, health and version, plus the Prometheus scrape
// endpoint mounted alongside.
package api

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/akosev/camnode/internal/logging"
	"github.com/akosev/camnode/internal/status"
	"github.com/akosev/camnode/internal/supervisor"
	"github.com/akosev/camnode/internal/version"
)

// Restarter is the supervisor surface the API needs.
type Restarter interface {
	RestartCamera(name string) error
	Status() []supervisor.OutputStatus
}

// Options configures the API server.
type Options struct {
	// AuthUsername/AuthPassword enable HTTP basic auth when both set.
	AuthUsername string
	AuthPassword string

	Supervisor Restarter
	Status     *status.Store

	// PrometheusHandler is mounted at /metrics when non-nil, outside
	// the authenticated API surface.
	PrometheusHandler http.Handler
}

// Server is the Huma v2 API server on Go 1.22+ native routing.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("CamNode API", version.Version)
	config.Info.Description = "Camera stream supervisor control API"
	config.Servers = []*huma.Server{}

	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
	}

	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	// Plain liveness probe for systemd/orchestrators, outside the API.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	server.registerRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// Start starts the HTTP server on the specified address.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down without waiting for open connections;
// the supervisor teardown behind it is the part that must be orderly.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// basicAuthMiddleware creates middleware for HTTP basic authentication.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		// Operations without security requirements skip auth.
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		unauthorized := func(message string) {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="CamNode API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, message)
		}

		authHeader := ctx.Header("Authorization")
		const prefix = "Basic "
		if authHeader == "" {
			unauthorized("Authentication required")
			return
		}
		if !strings.HasPrefix(authHeader, prefix) {
			unauthorized("Invalid authentication type")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
		if err != nil {
			unauthorized("Invalid credentials format")
			return
		}

		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 {
			unauthorized("Invalid credentials format")
			return
		}
		if parts[0] != username || parts[1] != password {
			unauthorized("Invalid credentials")
			return
		}

		next(ctx)
	}
}

// withAuth marks an operation as requiring basic auth.
func withAuth() []map[string][]string {
	return []map[string][]string{{"basicAuth": {}}}
}
