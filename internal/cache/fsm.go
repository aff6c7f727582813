package cache

import (
	"context"
	"fmt"
	"strconv"
)

const (
	fsmKeyPrefix = "fsm:"
	fsmStateKey  = "_state"
)

// State is a user's conversation step plus the answers collected so far.
type State struct {
	Name string
	Data map[string]string
}

// Get returns a collected answer.
func (s *State) Get(key string) string {
	if s == nil {
		return ""
	}
	return s.Data[key]
}

func fsmKey(telegramID int64) string {
	return fsmKeyPrefix + strconv.FormatInt(telegramID, 10)
}

// GetState loads the conversation state. A user without a state gets an
// empty State, not an error.
func (c *Cache) GetState(ctx context.Context, telegramID int64) (*State, error) {
	fields, err := c.client.HGetAll(ctx, fsmKey(telegramID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	st := &State{Name: fields[fsmStateKey], Data: make(map[string]string, len(fields))}
	for k, v := range fields {
		if k != fsmStateKey {
			st.Data[k] = v
		}
	}
	return st, nil
}

// SetState moves the user to a step and stores extra answers alongside the
// ones already collected.
func (c *Cache) SetState(ctx context.Context, telegramID int64, name string, data map[string]string) error {
	key := fsmKey(telegramID)

	fields := make(map[string]any, len(data)+1)
	fields[fsmStateKey] = name
	for k, v := range data {
		fields[k] = v
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.fsmTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

// ClearState ends the conversation.
func (c *Cache) ClearState(ctx context.Context, telegramID int64) error {
	if err := c.client.Del(ctx, fsmKey(telegramID)).Err(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}
