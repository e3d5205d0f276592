// Package events publishes lifecycle domain events for out-of-process
// consumers (notification and automation subsystems).
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"field-service-backend/internal/lifecycle"
)

const streamKey = "events:domain"

// RedisSink appends domain events to a Redis list consumers drain at their
// own pace. Best effort: the lifecycle logs and swallows publish failures.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink builds a sink over the given client.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Publish appends one event as JSON.
func (s *RedisSink) Publish(ctx context.Context, evt lifecycle.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.RPush(ctx, streamKey, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
