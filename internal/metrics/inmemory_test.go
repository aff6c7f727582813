package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryRecorder_Counters(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	m.IncCommand("start")
	m.IncCommand("start")
	m.IncCommand("help")
	m.IncLLMRequest("openai", "success")
	m.IncLLMRequest("openai", "error")
	m.ObserveLLMLatency("openai", 200*time.Millisecond)
	m.ObserveLLMLatency("openai", 300*time.Millisecond)
	m.IncLLMCacheHit()
	m.SetUsageQueueDepth(7)
	m.IncJobRun("daily_horoscope", "success")

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Commands["start"])
	assert.Equal(t, []string{"help", "start"}, snap.Commands.Keys())
	assert.Equal(t, uint64(1), snap.LLMRequests["openai/error"])
	assert.Equal(t, uint64(2), snap.LLMLatency["openai"].Count)
	assert.InDelta(t, 0.5, snap.LLMLatency["openai"].Seconds(), 1e-9)
	assert.Equal(t, uint64(1), snap.LLMCacheHits)
	assert.Equal(t, int64(7), snap.UsageQueueDepth)
	assert.Equal(t, uint64(1), snap.JobRuns["daily_horoscope/success"])
}

func TestInMemoryRecorder_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewInMemory()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.IncBotUpdate("message")
				m.ObserveHandlerDuration(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, uint64(800), snap.BotUpdates["message"])
	assert.Equal(t, uint64(800), snap.HandlerDuration.Count)
}

func TestNoopRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder = NewNoop()
	r.IncPayment("succeeded")
	r.ObserveUsageIngestLag(time.Second)
}
