package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConsumerGroup is the Redis consumer group reading StreamKey.
const ConsumerGroup = "usage_workers"

const deadLetterMaxLen = 10000

// groupReader is one consumer of the usage stream.
type groupReader struct {
	client    *redis.Client
	consumer  string
	count     int64
	block     time.Duration
	claimIdle time.Duration
	cursor    string // XAUTOCLAIM position
}

func (g *groupReader) join(ctx context.Context) error {
	err := g.client.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", ConsumerGroup, err)
	}
	return nil
}

// fresh blocks up to g.block for entries never delivered to the group.
func (g *groupReader) fresh(ctx context.Context) ([]redis.XMessage, error) {
	res, err := g.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: g.consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    g.count,
		Block:    g.block,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("xreadgroup: %w", err)
	case len(res) == 0:
		return nil, nil
	}
	return res[0].Messages, nil
}

// orphaned takes over entries another consumer read but never acknowledged.
func (g *groupReader) orphaned(ctx context.Context) ([]redis.XMessage, error) {
	msgs, next, err := g.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: g.consumer,
		MinIdle:  g.claimIdle,
		Start:    g.cursor,
		Count:    g.count,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if next != "" {
		g.cursor = next
	}
	return msgs, nil
}

func (g *groupReader) ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := g.client.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack %d entries: %w", len(ids), err)
	}
	return nil
}

// bury copies a poison entry to the dead-letter stream.
func (g *groupReader) bury(ctx context.Context, msg redis.XMessage, reason string, cause error) error {
	return g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"source_id": msg.ID,
			"reason":    reason,
			"error":     cause.Error(),
			"payload":   msg.Values["payload"],
			"buried_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
}

// backlog is the group's pending plus undelivered entry count.
func (g *groupReader) backlog(ctx context.Context) (int64, bool, error) {
	groups, err := g.client.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, err
	}
	for _, gr := range groups {
		if gr.Name == ConsumerGroup {
			return gr.Pending + gr.Lag, true, nil
		}
	}
	return 0, false, nil
}
