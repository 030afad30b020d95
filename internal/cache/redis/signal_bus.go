package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// defaultStreamMaxLen bounds pass report streams when no length is configured.
const defaultStreamMaxLen int64 = 10000

// payloadField is the single field each stream entry carries.
const payloadField = "payload"

// SignalBus implements domain.SignalBus. Live reports go over Pub/Sub; the
// report history is a capped stream.
type SignalBus struct {
	rdb    redis.UniversalClient
	maxLen int64
}

// NewSignalBus creates a SignalBus. maxLen <= 0 uses the default cap.
func NewSignalBus(c *Client, maxLen int) *SignalBus {
	sb := &SignalBus{rdb: c.rdb, maxLen: int64(maxLen)}
	if sb.maxLen <= 0 {
		sb.maxLen = defaultStreamMaxLen
	}
	return sb
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, which may be a glob such as "treasury:*".
// The subscription is confirmed before returning; the channel closes when
// ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	open := sb.rdb.Subscribe
	if strings.ContainsAny(channel, "*?[") {
		open = sb.rdb.PSubscribe
	}
	ps := open(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	msgs := ps.Channel(redis.WithChannelSize(128))
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				msg = m
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload with XADD and trims the stream to about maxLen.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries strictly after lastID using an
// exclusive XRANGE, so it never blocks and an empty range is not an error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	entries, err := sb.rdb.XRangeN(ctx, stream, "("+lastID, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: xrange %s: %w", stream, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		if data, ok := fieldBytes(e.Values[payloadField]); ok {
			out = append(out, domain.StreamMessage{ID: e.ID, Payload: data})
		}
	}
	return out, nil
}

func fieldBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
