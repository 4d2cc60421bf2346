package broadcast

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
)

// fakeSubscriber records everything written to it.
type fakeSubscriber struct {
	mu      sync.Mutex
	data    strings.Builder
	flushes int
	failing bool
	closed  bool
}

func (f *fakeSubscriber) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errors.New("broken pipe")
	}
	f.data.Write(p)
	return len(p), nil
}

func (f *fakeSubscriber) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) contents() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data.String()
}

func newBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return New(log)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestFrame(t *testing.T) {
	frame, err := Frame(events.Event{Type: events.TypeHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"heartbeat\"}\n\n", string(frame))
}

func TestFrame_EscapesNewlines(t *testing.T) {
	frame, err := Frame(events.NewTextChunk("line1\nline2"))
	require.NoError(t, err)
	// The payload must stay on a single line for valid SSE framing.
	assert.Equal(t, 2, strings.Count(string(frame), "\n"))
	assert.True(t, strings.HasSuffix(string(frame), "\n\n"))
}

func TestBroadcaster_AddRemoveIdempotent(t *testing.T) {
	b := newBroadcaster(t)
	sub := &fakeSubscriber{}

	b.Add(sub)
	b.Add(sub)
	assert.Equal(t, 1, b.Count())

	b.Remove(sub)
	b.Remove(sub)
	assert.Equal(t, 0, b.Count())
}

func TestBroadcaster_TwoTabsSeeTheSameBytes(t *testing.T) {
	b := newBroadcaster(t)
	subA := &fakeSubscriber{}
	subB := &fakeSubscriber{}
	b.Add(subA)
	b.Add(subB)

	b.Broadcast(events.Event{
		Type:    events.TypeMessage,
		Role:    events.RoleAssistant,
		Name:    "bot",
		Content: []events.ContentBlock{{Type: events.ContentText, Content: "hi"}},
	})

	want := `data: {"type":"message","role":"assistant","name":"bot","content":[{"type":"text","content":"hi"}]}` + "\n\n"
	waitFor(t, func() bool { return subA.contents() == want })
	waitFor(t, func() bool { return subB.contents() == want })
}

func TestBroadcaster_OrderingPerSubscriber(t *testing.T) {
	b := newBroadcaster(t)
	sub := &fakeSubscriber{}
	b.Add(sub)

	for i := 0; i < 10; i++ {
		b.Broadcast(events.NewTextChunk(string(rune('a' + i))))
	}

	waitFor(t, func() bool { return strings.Count(sub.contents(), "\n\n") == 10 })

	// Chunks must appear in broadcast order.
	got := sub.contents()
	last := -1
	for i := 0; i < 10; i++ {
		idx := strings.Index(got, `"chunk":"`+string(rune('a'+i))+`"`)
		require.Greater(t, idx, last)
		last = idx
	}
}

func TestBroadcaster_FailingSubscriberIsDropped(t *testing.T) {
	b := newBroadcaster(t)
	good := &fakeSubscriber{}
	bad := &fakeSubscriber{failing: true}
	b.Add(good)
	b.Add(bad)

	b.Broadcast(events.NewWarn("still here"))

	waitFor(t, func() bool { return b.Count() == 1 })
	waitFor(t, func() bool { return strings.Contains(good.contents(), "still here") })
	assert.True(t, b.Contains(good))
	assert.False(t, b.Contains(bad))
}

// stuckSubscriber blocks every write until released.
type stuckSubscriber struct {
	fakeSubscriber
	release chan struct{}
}

func (s *stuckSubscriber) Write(p []byte) (int, error) {
	<-s.release
	return s.fakeSubscriber.Write(p)
}

func TestBroadcaster_SlowSubscriberIsClosed(t *testing.T) {
	b := newBroadcaster(t)
	slow := &stuckSubscriber{release: make(chan struct{})}
	defer close(slow.release)
	b.Add(slow)

	// One frame occupies the worker, frameBuffer more fill the queue, and
	// the next overflows it.
	for i := 0; i < frameBuffer+2; i++ {
		b.Broadcast(events.NewTextChunk("x"))
	}

	waitFor(t, func() bool { return b.Count() == 0 })
	// Eviction must close the subscriber so its connection handler unblocks.
	waitFor(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return slow.closed
	})
}

func TestBroadcaster_ReplayPrecedesLiveEvents(t *testing.T) {
	b := newBroadcaster(t)
	sub := &fakeSubscriber{}

	replayStarted := make(chan struct{})
	releaseReplay := make(chan struct{})

	b.AddWithReplay(sub, func(s Subscriber) error {
		close(replayStarted)
		<-releaseReplay
		for _, text := range []string{"M1", "M2"} {
			frame, err := Frame(events.NewMessage(events.RoleAssistant, "bot", text))
			if err != nil {
				return err
			}
			if _, err := s.Write(frame); err != nil {
				return err
			}
		}
		return nil
	})

	<-replayStarted
	// Broadcast while replay is still in flight; it must be queued behind it.
	b.Broadcast(events.NewMessage(events.RoleAssistant, "bot", "M3"))
	close(releaseReplay)

	waitFor(t, func() bool { return strings.Contains(sub.contents(), "M3") })

	got := sub.contents()
	assert.Less(t, strings.Index(got, "M1"), strings.Index(got, "M2"))
	assert.Less(t, strings.Index(got, "M2"), strings.Index(got, "M3"))
}

func TestBroadcaster_CloseAll(t *testing.T) {
	b := newBroadcaster(t)
	subA := &fakeSubscriber{}
	subB := &fakeSubscriber{}
	b.Add(subA)
	b.Add(subB)

	b.CloseAll()

	assert.Equal(t, 0, b.Count())
	waitFor(t, func() bool {
		subA.mu.Lock()
		closedA := subA.closed
		subA.mu.Unlock()
		subB.mu.Lock()
		closedB := subB.closed
		subB.mu.Unlock()
		return closedA && closedB
	})
}
