package relayhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ Publisher = (*RedisStream)(nil)

// RedisStream publishes events to a Redis stream. Each entry carries the
// fields type, tenant_id, occurred_at and data (JSON).
type RedisStream struct {
	client goredis.UniversalClient
	stream string
	maxLen int64
}

// StreamOption configures a RedisStream.
type StreamOption func(*RedisStream)

// WithMaxLen caps the stream at approximately n entries. Zero keeps every
// entry.
func WithMaxLen(n int64) StreamOption {
	return func(s *RedisStream) { s.maxLen = n }
}

// NewRedisStream returns a Publisher appending to the named stream. The
// caller owns the client lifecycle.
func NewRedisStream(client goredis.UniversalClient, stream string, opts ...StreamOption) *RedisStream {
	s := &RedisStream{client: client, stream: stream, maxLen: 10000}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Publish implements Publisher.
func (s *RedisStream) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("relayhook: encode %s payload: %w", evt.Type, err)
	}
	args := &goredis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":        evt.Type,
			"tenant_id":   evt.TenantID,
			"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
			"data":        data,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("relayhook: xadd %s: %w", s.stream, err)
	}
	return nil
}
