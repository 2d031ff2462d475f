package api

import (
	"context"
	"net/http"
	"time"

	"github.com/campaignforge/engine/internal/telemetry"
)

// tenantHeader is the request header every route requires to scope the
// operation to a tenant. The run engine has no session/cookie concept at
// this boundary, so the header is the entire tenant authentication story;
// a reverse proxy in front of this server is expected to populate it from
// whatever authentication scheme the deployment uses.
const tenantHeader = "X-Tenant-ID"

type tenantContextKey struct{}

// tenantFromContext returns the tenant id the requireTenant middleware
// stashed on the request context.
func tenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tenantContextKey{}).(string)
	return id
}

// RouterConfig bundles the handlers Router dispatches to.
type RouterConfig struct {
	Runs   *RunsHandler
	Logger telemetry.Logger
}

// Router wraps an http.ServeMux with the Run API Surface's routes and the
// request-logging and tenant-extraction middleware every route runs behind.
type Router struct {
	mux    *http.ServeMux
	logger telemetry.Logger
}

// NewRouter constructs a Router with every Run API Surface route registered.
func NewRouter(cfg RouterConfig) *Router {
	mux := http.NewServeMux()
	r := &Router{mux: mux, logger: cfg.Logger}
	if cfg.Runs != nil {
		cfg.Runs.RegisterRoutes(mux)
	}
	return r
}

// Mux exposes the underlying ServeMux so callers can register additional
// routes (health checks, pprof) outside the Run API Surface proper.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler, running every request through the
// tenant and logging middleware before dispatching to the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.withLogging(r.requireTenant(r.mux)).ServeHTTP(w, req)
}

func (r *Router) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		tenantID := req.Header.Get(tenantHeader)
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", tenantHeader+" header is required")
			return
		}
		ctx := context.WithValue(req.Context(), tenantContextKey{}, tenantID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func (r *Router) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		if r.logger != nil {
			r.logger.Info(req.Context(), "http request",
				"method", req.Method, "path", req.URL.Path, "duration_ms", time.Since(start).Milliseconds())
		}
	})
}
