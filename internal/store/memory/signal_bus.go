package memory

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// SignalBus is an in-process domain.SignalBus used when Redis is disabled.
// Subscribers whose buffer is full miss messages rather than block
// publishers.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[int]subscriber
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     int64
	maxLen  int
}

type subscriber struct {
	pattern string
	ch      chan []byte
}

// NewSignalBus creates an empty bus whose streams keep at most maxLen
// entries (unbounded when maxLen <= 0).
func NewSignalBus(maxLen int) *SignalBus {
	return &SignalBus{
		subs:    make(map[int]subscriber),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber for channel, which may contain glob
// wildcards. The returned channel is closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscriber{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends payload to stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if b.maxLen > 0 && len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages appended after lastID. "0" and
// "0-0" read from the beginning.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) int64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}

var (
	_ domain.SignalBus      = (*SignalBus)(nil)
	_ domain.LockManager    = (*LockManager)(nil)
	_ domain.PositionLedger = (*PositionLedger)(nil)
)
