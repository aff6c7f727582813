package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncBotUpdate(kind string)                                  {}
func (n *NoopRecorder) IncCommand(name string)                                    {}
func (n *NoopRecorder) ObserveHandlerDuration(duration time.Duration)             {}
func (n *NoopRecorder) IncThrottled(action string)                                {}
func (n *NoopRecorder) IncLLMRequest(provider, outcome string)                    {}
func (n *NoopRecorder) ObserveLLMLatency(provider string, duration time.Duration) {}
func (n *NoopRecorder) IncLLMCacheHit()                                           {}
func (n *NoopRecorder) IncLLMCacheMiss()                                          {}
func (n *NoopRecorder) IncReading(spread string)                                  {}
func (n *NoopRecorder) IncHoroscope(period string)                                {}
func (n *NoopRecorder) IncPayment(status string)                                  {}
func (n *NoopRecorder) IncNotification(status string)                             {}
func (n *NoopRecorder) IncUsageEventPublished(status string)                      {}
func (n *NoopRecorder) IncUsageEventProcessed(status string)                      {}
func (n *NoopRecorder) ObserveUsageBatchSize(size int)                            {}
func (n *NoopRecorder) ObserveUsageBatchDuration(duration time.Duration)          {}
func (n *NoopRecorder) SetUsageQueueDepth(depth int64)                            {}
func (n *NoopRecorder) ObserveUsageIngestLag(lag time.Duration)                   {}
func (n *NoopRecorder) IncJobRun(job, outcome string)                             {}
