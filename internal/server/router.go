package server

import (
	"net/http"
	"strings"
)

// CacheHTTP defines the surface the router needs from the decision cache
// facade to serve the observability routes.
type CacheHTTP interface {
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeStats(http.ResponseWriter, *http.Request)
	ServeReport(http.ResponseWriter, *http.Request)
}

// NewCacheHandler dispatches the observability routes to the facade so the
// lifecycle server owns URL layout without the facade knowing about paths.
func NewCacheHandler(c CacheHTTP) http.Handler {
	if c == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := parseRoute(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		switch route {
		case "healthz":
			c.ServeHealth(w, r)
		case "stats":
			c.ServeStats(w, r)
		case "report":
			c.ServeReport(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func parseRoute(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", false
	}
	switch strings.ToLower(trimmed) {
	case "health", "healthz":
		return "healthz", true
	case "stats":
		return "stats", true
	case "report":
		return "report", true
	}
	return "", false
}
