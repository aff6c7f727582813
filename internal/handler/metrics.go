package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/astrotarot/astrotarot/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeCounters(w, "astrotarot_bot_updates_total", "kind", snap.BotUpdates)
	writeCounters(w, "astrotarot_bot_commands_total", "command", snap.Commands)
	writeCounters(w, "astrotarot_bot_throttled_total", "action", snap.Throttled)
	writeDuration(w, "astrotarot_bot_handler_duration_seconds", "", snap.HandlerDuration)

	for _, key := range snap.LLMRequests.Keys() {
		provider, outcome, _ := strings.Cut(key, "/")
		writeMetric(w, "astrotarot_llm_requests_total{provider=%q,outcome=%q} %d\n", provider, outcome, snap.LLMRequests[key])
	}
	for provider, d := range snap.LLMLatency {
		writeDuration(w, "astrotarot_llm_latency_seconds", fmt.Sprintf("{provider=%q}", provider), d)
	}
	writeMetric(w, "astrotarot_llm_cache_hits_total %d\n", snap.LLMCacheHits)
	writeMetric(w, "astrotarot_llm_cache_misses_total %d\n", snap.LLMCacheMiss)

	writeCounters(w, "astrotarot_tarot_readings_total", "spread", snap.Readings)
	writeCounters(w, "astrotarot_horoscopes_total", "period", snap.Horoscopes)
	writeCounters(w, "astrotarot_payments_total", "status", snap.Payments)
	writeCounters(w, "astrotarot_notifications_total", "status", snap.Notifications)

	writeCounters(w, "astrotarot_usage_events_published_total", "status", snap.UsagePublished)
	writeCounters(w, "astrotarot_usage_events_processed_total", "status", snap.UsageProcessed)
	writeMetric(w, "astrotarot_usage_batches_total %d\n", snap.UsageBatches)
	writeMetric(w, "astrotarot_usage_queue_depth %d\n", snap.UsageQueueDepth)
	writeDuration(w, "astrotarot_usage_batch_duration_seconds", "", snap.UsageBatchDuration)
	writeDuration(w, "astrotarot_usage_ingest_lag_seconds", "", snap.UsageIngestLag)

	for _, key := range snap.JobRuns.Keys() {
		job, outcome, _ := strings.Cut(key, "/")
		writeMetric(w, "astrotarot_job_runs_total{job=%q,outcome=%q} %d\n", job, outcome, snap.JobRuns[key])
	}
}

func writeCounters(w http.ResponseWriter, name, label string, counters metrics.Counters) {
	for _, key := range counters.Keys() {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, key, counters[key])
	}
}

func writeDuration(w http.ResponseWriter, name, labels string, d metrics.Duration) {
	writeMetric(w, "%s_count%s %d\n", name, labels, d.Count)
	writeMetric(w, "%s_sum%s %.6f\n", name, labels, d.Seconds())
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
