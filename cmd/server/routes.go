package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yourusername/storeguard/api"
	"github.com/yourusername/storeguard/pkg/storeguard"
)

// storefrontRoutes maps URL patterns to the policy guarding them.
// Anything not listed falls under "general".
var storefrontRoutes = []struct {
	pattern string
	policy  string
}{
	{"/api/auth/*", "auth"},
	{"/api/products", "api"},
	{"/api/products/*", "api"},
	{"/api/graphql", "graphql"},
	{"/api/contact", "forms"},
	{"/api/uploads", "uploads"},
	{"/api/uploads/*", "uploads"},
	{"/api/search", "search"},
}

const defaultPolicy = "general"

// Response is the JSON body of the stub backend
type Response struct {
	Message   string `json:"message"`
	Policy    string `json:"policy"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// newRouter builds the storefront router. The admin surface is mounted
// on it only when no separate admin listener is configured.
func newRouter(guard *storeguard.Guard, upstream *url.URL, logger *slog.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	if guard.Config().Admin.Addr == "" {
		mountAdmin(r, guard, logger)
	}

	for _, route := range storefrontRoutes {
		h, err := guard.Protect(route.policy, backend(route.policy, upstream))
		if err != nil {
			return nil, err
		}
		r.Handle(route.pattern, h)
	}

	fallback, err := guard.Protect(defaultPolicy, backend(defaultPolicy, upstream))
	if err != nil {
		return nil, err
	}
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)

	return r, nil
}

// newAdminRouter serves the admin surface on its own listener
func newAdminRouter(guard *storeguard.Guard, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", healthHandler)
	mountAdmin(r, guard, logger)
	return r
}

// mountAdmin adds the dashboard page, /metrics and /admin. Everything but
// the static page requires the admin bearer token.
func mountAdmin(r chi.Router, guard *storeguard.Guard, logger *slog.Logger) {
	r.Get("/dashboard", dashboardHandler)

	r.Group(func(r chi.Router) {
		r.Use(api.RequireToken(guard.Config().Admin.Token))
		r.Handle("/metrics", guard.Metrics().Handler())
		r.Mount("/admin", api.NewHandler(guard, logger).Routes())
	})
}

// backend forwards to upstream, or answers with a stub when there is none
func backend(policy string, upstream *url.URL) http.Handler {
	if upstream != nil {
		return httputil.NewSingleHostReverseProxy(upstream)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{
			Message:   "request allowed",
			Policy:    policy,
			Path:      r.URL.Path,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "storeguard",
	})
}

func policyNames(config *storeguard.Config) []string {
	names := make([]string, 0, len(config.Policies))
	for name := range config.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func routesFor(policy string) string {
	var patterns []string
	for _, route := range storefrontRoutes {
		if route.policy == policy {
			patterns = append(patterns, route.pattern)
		}
	}
	if policy == defaultPolicy {
		patterns = append(patterns, "(all other paths)")
	}
	if len(patterns) == 0 {
		return "-"
	}
	return strings.Join(patterns, ", ")
}
