// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the bot, its workers and the admin API.
type Recorder interface {
	// Telegram updates
	IncBotUpdate(kind string) // message, callback, command, payment, checkout
	IncCommand(name string)
	ObserveHandlerDuration(duration time.Duration)
	IncThrottled(action string)

	// LLM generation
	IncLLMRequest(provider, outcome string) // outcome: success, error, rate_limited, fallback
	ObserveLLMLatency(provider string, duration time.Duration)
	IncLLMCacheHit()
	IncLLMCacheMiss()

	// Product events
	IncReading(spread string)
	IncHoroscope(period string)
	IncPayment(status string)

	// Notification delivery
	IncNotification(status string) // sent, failed, exhausted, blocked

	// Usage event pipeline
	IncUsageEventPublished(status string) // success, dropped
	IncUsageEventProcessed(status string) // success, failed, skipped
	ObserveUsageBatchSize(size int)
	ObserveUsageBatchDuration(duration time.Duration)
	SetUsageQueueDepth(depth int64)
	ObserveUsageIngestLag(lag time.Duration)

	// Scheduler
	IncJobRun(job, outcome string) // outcome: success, failed, skipped
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
