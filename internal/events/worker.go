package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/astrotarot/astrotarot/internal/metrics"
	"github.com/astrotarot/astrotarot/internal/model"
)

// Worker defaults.
const (
	DefaultBatchSize    = 500
	DefaultBlockTimeout = 5 * time.Second
	DefaultMaxRetries   = 3
	DefaultClaimIdle    = 30 * time.Second

	claimEvery   = 10 * time.Second
	backlogEvery = 5 * time.Second
)

// Repository persists usage events.
type Repository interface {
	InsertUsageEvents(ctx context.Context, events []*model.UsageEvent) error
}

// Worker drains the usage stream into Postgres in batches. An entry is
// acknowledged only after its batch is stored, so a crash replays it; the
// repository deduplicates by stream ID.
type Worker struct {
	reader  *groupReader
	repo    Repository
	logger  *slog.Logger
	metrics metrics.Recorder

	attempts int
	backoff  time.Duration

	claimTick   ticker
	backlogTick ticker

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewWorker creates a worker reading as consumerID.
func NewWorker(client *redis.Client, repo Repository, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		reader: &groupReader{
			client:    client,
			consumer:  consumerID,
			count:     DefaultBatchSize,
			block:     DefaultBlockTimeout,
			claimIdle: DefaultClaimIdle,
			cursor:    "0-0",
		},
		repo:        repo,
		logger:      logger.With("component", "events.worker", "consumer_id", consumerID),
		metrics:     recorder,
		attempts:    DefaultMaxRetries,
		backoff:     time.Second,
		claimTick:   ticker{every: claimEvery},
		backlogTick: ticker{every: backlogEvery},
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// SetBatchSize overrides DefaultBatchSize.
func (w *Worker) SetBatchSize(n int) {
	if n > 0 {
		w.reader.count = int64(n)
	}
}

// SetBlockTimeout overrides DefaultBlockTimeout.
func (w *Worker) SetBlockTimeout(d time.Duration) {
	if d > 0 {
		w.reader.block = d
	}
}

// SetClaimIdle overrides DefaultClaimIdle.
func (w *Worker) SetClaimIdle(d time.Duration) {
	if d > 0 {
		w.reader.claimIdle = d
	}
}

// Run consumes until ctx is cancelled or Shutdown is called. A worker runs
// at most once.
func (w *Worker) Run(ctx context.Context) error {
	started := false
	w.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("events worker already started")
	}
	defer close(w.done)

	if err := w.reader.join(ctx); err != nil {
		return err
	}
	w.logger.Info("usage worker started")

	for {
		err := w.poll(ctx)
		select {
		case <-w.quit:
			w.logger.Info("usage worker drained")
			return nil
		case <-ctx.Done():
			w.logger.Info("usage worker stopping")
			return ctx.Err()
		default:
		}
		if err != nil {
			w.logger.Error("usage poll failed", "error", err)
			pause(ctx, time.Second)
		}
	}
}

// Shutdown asks Run to return after the batch in hand and waits for it. An
// idle worker notices within one block timeout.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.quit) })

	// Never started: nothing to wait for.
	started := true
	w.startOnce.Do(func() {
		started = false
		close(w.done)
	})
	if !started {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("usage worker shutdown timed out")
		return ctx.Err()
	}
}

// poll handles one batch: orphans first, otherwise fresh entries.
func (w *Worker) poll(ctx context.Context) error {
	now := time.Now()
	if w.backlogTick.due(now) {
		w.reportBacklog(ctx)
	}

	var msgs []redis.XMessage
	if w.claimTick.due(now) {
		var err error
		if msgs, err = w.reader.orphaned(ctx); err != nil {
			w.logger.Warn("reclaim failed", "error", err)
		}
	}
	if len(msgs) == 0 {
		var err error
		if msgs, err = w.reader.fresh(ctx); err != nil {
			return err
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	batch, ids := w.decodeAll(ctx, msgs)
	if len(batch) > 0 {
		if err := w.store(ctx, batch); err != nil {
			// Unacknowledged entries come back through XAUTOCLAIM.
			return fmt.Errorf("store %d usage events: %w", len(batch), err)
		}
	}
	return w.reader.ack(ctx, ids)
}

func (w *Worker) reportBacklog(ctx context.Context) {
	n, ok, err := w.reader.backlog(ctx)
	if err != nil {
		w.logger.Warn("stream backlog unavailable", "error", err)
		return
	}
	if ok {
		w.metrics.SetUsageQueueDepth(n)
	}
}

// decodeAll returns the decodable events and the IDs of every entry,
// including poison ones, which are dead-lettered on the way.
func (w *Worker) decodeAll(ctx context.Context, msgs []redis.XMessage) ([]*model.UsageEvent, []string) {
	batch := make([]*model.UsageEvent, 0, len(msgs))
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
		ev, reason, err := decodeMessage(msg)
		if err == nil {
			batch = append(batch, ev)
			continue
		}
		w.logger.Warn("poison usage entry", "message_id", msg.ID, "reason", reason, "error", err)
		if berr := w.reader.bury(ctx, msg, reason, err); berr != nil {
			w.logger.Error("dead-letter write failed", "message_id", msg.ID, "error", berr)
		}
		w.metrics.IncUsageEventProcessed("skipped")
	}
	return batch, ids
}

// decodeMessage parses one stream entry. The stream ID is the event's
// idempotency key; reason classifies failures for the dead-letter stream.
func decodeMessage(msg redis.XMessage) (ev *model.UsageEvent, reason string, err error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, "invalid_format", errors.New("payload field missing or not a string")
	}
	var p UsagePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, "unmarshal_error", err
	}
	if err := ValidateUsagePayload(p); err != nil {
		return nil, "validation_error", err
	}
	return &model.UsageEvent{
		ID:         ulid.Make().String(),
		EventID:    msg.ID,
		UserID:     p.UserID,
		TelegramID: p.TelegramID,
		Kind:       model.UsageKind(p.Kind),
		Name:       p.Name,
		Detail:     p.Detail,
		OccurredAt: time.UnixMilli(p.OccurredAt).UTC(),
	}, "", nil
}

// store inserts a batch, doubling the pause between attempts.
func (w *Worker) store(ctx context.Context, batch []*model.UsageEvent) error {
	wait := w.backoff
	var err error
	for attempt := 1; ; attempt++ {
		started := time.Now()
		if err = w.repo.InsertUsageEvents(ctx, batch); err == nil {
			w.observe(batch, time.Since(started))
			return nil
		}
		if attempt >= w.attempts {
			break
		}
		w.logger.Warn("usage insert failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if !pause(ctx, wait) {
			return ctx.Err()
		}
		wait *= 2
	}

	for range batch {
		w.metrics.IncUsageEventProcessed("failed")
	}
	return err
}

func (w *Worker) observe(batch []*model.UsageEvent, took time.Duration) {
	w.metrics.ObserveUsageBatchSize(len(batch))
	w.metrics.ObserveUsageBatchDuration(took)
	now := time.Now()
	for _, ev := range batch {
		w.metrics.IncUsageEventProcessed("success")
		w.metrics.ObserveUsageIngestLag(now.Sub(ev.OccurredAt))
	}
	w.logger.Debug("usage batch stored", "events", len(batch), "took", took)
}

// ticker reports whether every has passed since it last fired.
type ticker struct {
	every time.Duration
	last  time.Time
}

func (t *ticker) due(now time.Time) bool {
	if t.every <= 0 {
		return false
	}
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		return false
	}
	t.last = now
	return true
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
