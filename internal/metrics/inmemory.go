package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counters maps a label value to its count.
type Counters map[string]uint64

// Duration accumulates observations.
type Duration struct {
	Count   uint64
	TotalNs int64
}

// Seconds returns the total in seconds.
func (d Duration) Seconds() float64 {
	return float64(d.TotalNs) / 1e9
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	BotUpdates      Counters
	Commands        Counters
	HandlerDuration Duration
	Throttled       Counters

	LLMRequests  Counters // "provider/outcome"
	LLMLatency   map[string]Duration
	LLMCacheHits uint64
	LLMCacheMiss uint64

	Readings   Counters
	Horoscopes Counters
	Payments   Counters

	Notifications Counters

	UsagePublished     Counters
	UsageProcessed     Counters
	UsageBatches       uint64
	UsageBatchDuration Duration
	UsageQueueDepth    int64
	UsageIngestLag     Duration

	JobRuns Counters // "job/outcome"
}

// Keys returns the label values in sorted order.
func (c Counters) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type counterVec struct {
	mu sync.Mutex
	m  map[string]*atomic.Uint64
}

func (v *counterVec) inc(label string) {
	v.mu.Lock()
	if v.m == nil {
		v.m = make(map[string]*atomic.Uint64)
	}
	c, ok := v.m[label]
	if !ok {
		c = new(atomic.Uint64)
		v.m[label] = c
	}
	v.mu.Unlock()
	c.Add(1)
}

func (v *counterVec) snapshot() Counters {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(Counters, len(v.m))
	for k, c := range v.m {
		out[k] = c.Load()
	}
	return out
}

type durationAcc struct {
	count   atomic.Uint64
	totalNs atomic.Int64
}

func (d *durationAcc) observe(v time.Duration) {
	d.count.Add(1)
	d.totalNs.Add(v.Nanoseconds())
}

func (d *durationAcc) snapshot() Duration {
	return Duration{Count: d.count.Load(), TotalNs: d.totalNs.Load()}
}

// InMemoryRecorder stores metrics in memory. It backs the /metrics endpoint
// and is used in tests.
type InMemoryRecorder struct {
	botUpdates      counterVec
	commands        counterVec
	handlerDuration durationAcc
	throttled       counterVec

	llmRequests  counterVec
	llmMu        sync.Mutex
	llmLatency   map[string]*durationAcc
	llmCacheHit  atomic.Uint64
	llmCacheMiss atomic.Uint64

	readings   counterVec
	horoscopes counterVec
	payments   counterVec

	notifications counterVec

	usagePublished     counterVec
	usageProcessed     counterVec
	usageBatches       atomic.Uint64
	usageBatchDuration durationAcc
	usageQueueDepth    atomic.Int64
	usageIngestLag     durationAcc

	jobRuns counterVec
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{llmLatency: make(map[string]*durationAcc)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.llmMu.Lock()
	latency := make(map[string]Duration, len(m.llmLatency))
	for k, d := range m.llmLatency {
		latency[k] = d.snapshot()
	}
	m.llmMu.Unlock()

	return Snapshot{
		BotUpdates:      m.botUpdates.snapshot(),
		Commands:        m.commands.snapshot(),
		HandlerDuration: m.handlerDuration.snapshot(),
		Throttled:       m.throttled.snapshot(),

		LLMRequests:  m.llmRequests.snapshot(),
		LLMLatency:   latency,
		LLMCacheHits: m.llmCacheHit.Load(),
		LLMCacheMiss: m.llmCacheMiss.Load(),

		Readings:   m.readings.snapshot(),
		Horoscopes: m.horoscopes.snapshot(),
		Payments:   m.payments.snapshot(),

		Notifications: m.notifications.snapshot(),

		UsagePublished:     m.usagePublished.snapshot(),
		UsageProcessed:     m.usageProcessed.snapshot(),
		UsageBatches:       m.usageBatches.Load(),
		UsageBatchDuration: m.usageBatchDuration.snapshot(),
		UsageQueueDepth:    m.usageQueueDepth.Load(),
		UsageIngestLag:     m.usageIngestLag.snapshot(),

		JobRuns: m.jobRuns.snapshot(),
	}
}

// IncBotUpdate counts an incoming Telegram update.
func (m *InMemoryRecorder) IncBotUpdate(kind string) { m.botUpdates.inc(kind) }

// IncCommand counts a bot command.
func (m *InMemoryRecorder) IncCommand(name string) { m.commands.inc(name) }

// ObserveHandlerDuration records bot handler time.
func (m *InMemoryRecorder) ObserveHandlerDuration(d time.Duration) { m.handlerDuration.observe(d) }

// IncThrottled counts a throttled bot action.
func (m *InMemoryRecorder) IncThrottled(action string) { m.throttled.inc(action) }

// IncLLMRequest counts a generation attempt.
func (m *InMemoryRecorder) IncLLMRequest(provider, outcome string) {
	m.llmRequests.inc(provider + "/" + outcome)
}

// ObserveLLMLatency records provider latency.
func (m *InMemoryRecorder) ObserveLLMLatency(provider string, d time.Duration) {
	m.llmMu.Lock()
	acc, ok := m.llmLatency[provider]
	if !ok {
		acc = &durationAcc{}
		m.llmLatency[provider] = acc
	}
	m.llmMu.Unlock()
	acc.observe(d)
}

// IncLLMCacheHit counts a cached generation.
func (m *InMemoryRecorder) IncLLMCacheHit() { m.llmCacheHit.Add(1) }

// IncLLMCacheMiss counts an uncached generation.
func (m *InMemoryRecorder) IncLLMCacheMiss() { m.llmCacheMiss.Add(1) }

// IncReading counts a tarot reading by spread.
func (m *InMemoryRecorder) IncReading(spread string) { m.readings.inc(spread) }

// IncHoroscope counts a horoscope view by period.
func (m *InMemoryRecorder) IncHoroscope(period string) { m.horoscopes.inc(period) }

// IncPayment counts a payment status change.
func (m *InMemoryRecorder) IncPayment(status string) { m.payments.inc(status) }

// IncNotification counts a delivery outcome.
func (m *InMemoryRecorder) IncNotification(status string) { m.notifications.inc(status) }

// IncUsageEventPublished counts stream publishes.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) { m.usagePublished.inc(status) }

// IncUsageEventProcessed counts worker outcomes.
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) { m.usageProcessed.inc(status) }

// ObserveUsageBatchSize counts a processed batch.
func (m *InMemoryRecorder) ObserveUsageBatchSize(int) { m.usageBatches.Add(1) }

// ObserveUsageBatchDuration records batch processing time.
func (m *InMemoryRecorder) ObserveUsageBatchDuration(d time.Duration) {
	m.usageBatchDuration.observe(d)
}

// SetUsageQueueDepth sets the pending stream length.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) { m.usageQueueDepth.Store(depth) }

// ObserveUsageIngestLag records time from event to storage.
func (m *InMemoryRecorder) ObserveUsageIngestLag(lag time.Duration) { m.usageIngestLag.observe(lag) }

// IncJobRun counts a scheduler job run.
func (m *InMemoryRecorder) IncJobRun(job, outcome string) { m.jobRuns.inc(job + "/" + outcome) }
