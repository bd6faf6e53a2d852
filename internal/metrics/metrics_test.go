package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveLookupAndStore(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveLookup("forward", LookupHit, 10*time.Millisecond)
	rec.ObserveStore("forward", StoreStored, 5*time.Millisecond)

	families := gather(t, rec, "tacticache_cache_lookups_total", "tacticache_cache_stores_total", "tacticache_cache_operation_duration_seconds")

	lookupMetric := findMetric(t, families["tacticache_cache_lookups_total"], map[string]string{
		"role":   "forward",
		"result": string(LookupHit),
	})
	if lookupMetric.GetCounter() == nil {
		t.Fatalf("expected counter metric for lookups")
	}
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	storeMetric := findMetric(t, families["tacticache_cache_stores_total"], map[string]string{
		"role":   "forward",
		"status": string(StoreStored),
	})
	if storeMetric.GetCounter() == nil {
		t.Fatalf("expected counter metric for stores")
	}
	if got := storeMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected store counter 1, got %v", got)
	}

	latencyMetric := findMetric(t, families["tacticache_cache_operation_duration_seconds"], map[string]string{
		"operation": string(CacheOperationStore),
		"result":    string(StoreStored),
	})
	hist := latencyMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for store latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.005
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveProduce(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveProduce("midfielder", 250*time.Millisecond)

	families := gather(t, rec, "tacticache_produce_duration_seconds")
	metric := findMetric(t, families["tacticache_produce_duration_seconds"], map[string]string{
		"role": "midfielder",
	})
	hist := metric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for produce latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderGaugesAndCounters(t *testing.T) {
	rec := NewRecorder(nil)
	rec.SetEntries(42)
	rec.AddEvictions(EvictCapacity, 3)
	rec.AddEvictions(EvictSweep, 2)
	rec.AddInvalidations("goal_scored", 7)
	rec.AddInvalidations("", 1)

	families := gather(t, rec, "tacticache_cache_entries", "tacticache_cache_evictions_total", "tacticache_cache_invalidations_total")

	entries := families["tacticache_cache_entries"][0]
	if entries.GetGauge() == nil || entries.GetGauge().GetValue() != 42 {
		t.Fatalf("expected entries gauge 42, got %+v", entries)
	}

	capacity := findMetric(t, families["tacticache_cache_evictions_total"], map[string]string{"cause": string(EvictCapacity)})
	if got := capacity.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected capacity evictions 3, got %v", got)
	}
	sweep := findMetric(t, families["tacticache_cache_evictions_total"], map[string]string{"cause": string(EvictSweep)})
	if got := sweep.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected sweep evictions 2, got %v", got)
	}

	invalidations := findMetric(t, families["tacticache_cache_invalidations_total"], map[string]string{"event": "goal_scored"})
	if got := invalidations.GetCounter().GetValue(); got != 7 {
		t.Fatalf("expected invalidations 7, got %v", got)
	}
	unknown := findMetric(t, families["tacticache_cache_invalidations_total"], map[string]string{"event": "unknown"})
	if got := unknown.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected blank event folded into unknown, got %v", got)
	}
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveLookup("forward", LookupHit, time.Millisecond)
	rec.ObserveStore("forward", StoreStored, time.Millisecond)
	rec.ObserveProduce("forward", time.Millisecond)
	rec.SetEntries(1)
	rec.AddEvictions(EvictResize, 1)
	rec.AddInvalidations("goal_scored", 1)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
