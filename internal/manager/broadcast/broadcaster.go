// Package broadcast fans one thread's event stream out to its live SSE
// subscribers. Each subscriber gets a dedicated write worker so that a slow
// or dead connection never blocks the others, and no lock is held across
// socket writes.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
)

// Subscriber is the write side of one SSE connection.
type Subscriber interface {
	Write(p []byte) (n int, err error)
	Flush()
}

// subscriberCloser is implemented by subscribers that can be ended explicitly.
type subscriberCloser interface {
	Close() error
}

// frameBuffer is the per-subscriber queue depth. A subscriber that falls this
// far behind is treated as dead and dropped.
const frameBuffer = 256

// Frame renders the SSE wire format for an event: `data: <json>\n\n`.
// encoding/json escapes embedded newlines, keeping the payload single-line.
func Frame(event events.Event) ([]byte, error) {
	data, err := event.Encode()
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// ReplayFunc writes previously persisted frames directly to a subscriber
// before it starts receiving live broadcasts.
type ReplayFunc func(sub Subscriber) error

type subscriberQueue struct {
	frames   chan []byte
	replay   ReplayFunc
	stop     chan struct{}
	stopOnce sync.Once
}

func (q *subscriberQueue) close() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// Broadcaster owns the set of live subscribers for one thread.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[Subscriber]*subscriberQueue
	logger *logger.Logger
}

// New creates an empty Broadcaster.
func New(log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[Subscriber]*subscriberQueue),
		logger: log,
	}
}

// Add registers a subscriber. Idempotent.
func (b *Broadcaster) Add(sub Subscriber) {
	b.AddWithReplay(sub, nil)
}

// AddWithReplay registers a subscriber whose worker first runs replay,
// then drains live frames. Frames broadcast after registration are queued
// behind the replay, so replayed history always precedes them.
func (b *Broadcaster) AddWithReplay(sub Subscriber, replay ReplayFunc) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		b.mu.Unlock()
		return
	}
	q := &subscriberQueue{
		frames: make(chan []byte, frameBuffer),
		replay: replay,
		stop:   make(chan struct{}),
	}
	b.subs[sub] = q
	b.mu.Unlock()

	go b.writeLoop(sub, q)
}

// Remove deregisters a subscriber. Idempotent. The subscriber itself is not
// closed; its lifetime belongs to the HTTP layer.
func (b *Broadcaster) Remove(sub Subscriber) {
	b.mu.Lock()
	q, ok := b.subs[sub]
	if ok {
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	if ok {
		q.close()
	}
}

// Contains reports whether the subscriber is registered.
func (b *Broadcaster) Contains(sub Subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[sub]
	return ok
}

// Count returns the number of live subscribers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast encodes the event once and enqueues the same bytes to every
// subscriber. Subscribers whose queue is full are evicted and closed.
// Never fails.
func (b *Broadcaster) Broadcast(event events.Event) {
	frame, err := Frame(event)
	if err != nil {
		b.logger.Error("failed to encode event", zap.String("event_type", event.Type), zap.Error(err))
		return
	}

	var dropped []Subscriber

	b.mu.Lock()
	for sub, q := range b.subs {
		select {
		case q.frames <- frame:
		default:
			// Queue full: the consumer is not keeping up.
			dropped = append(dropped, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		b.logger.Warn("dropping slow subscriber")
		b.evict(sub)
	}
}

// evict removes a subscriber the broadcaster gave up on and closes it, so
// the connection handler waiting on it unblocks and detaches normally.
func (b *Broadcaster) evict(sub Subscriber) {
	b.Remove(sub)
	if closer, ok := sub.(subscriberCloser); ok {
		_ = closer.Close()
	}
}

// CloseAll ends every subscriber and clears the set. Errors are swallowed.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[Subscriber]*subscriberQueue)
	b.mu.Unlock()

	for sub, q := range subs {
		q.close()
		if closer, ok := sub.(subscriberCloser); ok {
			_ = closer.Close()
		}
	}
}

// writeLoop is the per-subscriber worker: replay first, then live frames.
func (b *Broadcaster) writeLoop(sub Subscriber, q *subscriberQueue) {
	if q.replay != nil {
		if err := q.replay(sub); err != nil {
			b.logger.Debug("replay to subscriber failed", zap.Error(err))
			b.evict(sub)
			return
		}
		sub.Flush()
	}

	for {
		select {
		case <-q.stop:
			return
		case frame := <-q.frames:
			if _, err := sub.Write(frame); err != nil {
				b.logger.Debug("subscriber write failed", zap.Error(err))
				b.evict(sub)
				return
			}
			sub.Flush()
		}
	}
}
