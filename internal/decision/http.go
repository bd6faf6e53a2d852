package decision

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// ServeHealth reports liveness plus the event-rule provenance: which sources
// were loaded and which definitions were quarantined.
func (c *Cache) ServeHealth(w http.ResponseWriter, r *http.Request) {
	entries, err := c.store.Size(r.Context())
	if err != nil {
		c.logger.Error("entry count query failed", slog.Any("error", err))
		entries = 0
	}

	c.mu.RLock()
	sources := cloneStrings(c.sources)
	skipped := cloneSkips(c.skipped)
	rules := len(c.events)
	c.mu.RUnlock()

	healthStatus := "ok"
	if len(skipped) > 0 {
		healthStatus = "degraded"
	}
	status := map[string]any{
		"status":       healthStatus,
		"cacheEntries": entries,
		"eventRules":   rules,
		"observedAt":   time.Now().UTC(),
	}
	if len(sources) > 0 {
		status["eventSources"] = sources
	}
	if len(skipped) > 0 {
		status["skippedDefinitions"] = skipped
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		c.logger.Error("health encode failed", slog.Any("error", err))
	}
}

// ServeStats renders the statistics snapshot as JSON.
func (c *Cache) ServeStats(w http.ResponseWriter, r *http.Request) {
	snapshot := c.Stats(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		c.logger.Error("stats encode failed", slog.Any("error", err))
	}
}

// ServeReport renders the plain-text operator report from the statistics
// snapshot.
func (c *Cache) ServeReport(w http.ResponseWriter, r *http.Request) {
	snapshot := c.Stats(r.Context())
	rendered, err := c.statsTpl.Render(snapshot)
	if err != nil {
		c.logger.Error("report render failed", slog.Any("error", err))
		http.Error(w, "report unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(rendered)); err != nil {
		c.logger.Error("report write failed", slog.Any("error", err))
	}
}
