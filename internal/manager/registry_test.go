package manager

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
	"github.com/coday/coday/internal/events/bus"
	"github.com/coday/coday/internal/manager/timeout"
	"github.com/coday/coday/internal/runtime"
	"github.com/coday/coday/internal/thread/store"
)

var testTimeouts = Config{
	Timeouts: timeout.Config{
		Disconnect:  5 * time.Minute,
		Interactive: 8 * time.Hour,
		Oneshot:     30 * time.Minute,
	},
	HeartbeatInterval: 30 * time.Second,
}

// testSub is an in-memory SSE sink.
type testSub struct {
	mu   sync.Mutex
	data strings.Builder
}

func (s *testSub) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Write(p)
	return len(p), nil
}

func (s *testSub) Flush() {}

func (s *testSub) contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String()
}

func setupTestRegistry(t *testing.T, mock *clock.Mock) *Registry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	r := NewRegistry(testTimeouts, Deps{
		Clock:   mock,
		Bus:     bus.NewMemoryBus(log),
		Store:   store.NewMemoryStore(),
		Factory: runtime.EchoFactory,
		Logger:  log,
	})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func TestRegistry_GetOrCreateReusesInstance(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	subA := &testSub{}
	subB := &testSub{}

	first, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", subA)
	require.NoError(t, err)
	second, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", subB)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 2, first.ConnectionCount())
}

func TestRegistry_CrossUserRejected(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", nil)
	require.NoError(t, err)

	_, err = r.GetOrCreate(ctx, "thr-1", "proj", "bob", &testSub{})
	require.Error(t, err)
	assert.Equal(t, 403, apperrors.GetHTTPStatus(err))

	inst, ok := r.Get("thr-1")
	require.True(t, ok)
	assert.Equal(t, "alice", inst.Username())
	assert.Equal(t, 0, inst.ConnectionCount(), "rejected caller must not attach")
}

func TestRegistry_DisconnectTimeout(t *testing.T) {
	mock := clock.NewMock()
	r := setupTestRegistry(t, mock)
	ctx := context.Background()

	sub := &testSub{}
	_, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", sub)
	require.NoError(t, err)

	r.RemoveConnection("thr-1", sub)

	mock.Add(4*time.Minute + 59*time.Second)
	assert.Equal(t, 1, r.Count(), "instance must survive inside the grace period")

	mock.Add(2 * time.Second)
	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, time.Millisecond)
}

func TestRegistry_ReconnectCancelsDisconnectTimeout(t *testing.T) {
	mock := clock.NewMock()
	r := setupTestRegistry(t, mock)
	ctx := context.Background()

	sub := &testSub{}
	_, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", sub)
	require.NoError(t, err)

	r.RemoveConnection("thr-1", sub)
	mock.Add(4 * time.Minute)

	// Reconnect before the grace period ends.
	_, err = r.GetOrCreate(ctx, "thr-1", "proj", "alice", sub)
	require.NoError(t, err)

	mock.Add(30 * time.Minute)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_OneshotTimeout(t *testing.T) {
	mock := clock.NewMock()
	r := setupTestRegistry(t, mock)
	ctx := context.Background()

	_, err := r.CreateWithoutConnection(ctx, "thr-w", "proj", "svc")
	require.NoError(t, err)

	mock.Add(29 * time.Minute)
	assert.Equal(t, 1, r.Count(), "oneshot instance must survive before its window")

	mock.Add(2 * time.Minute)
	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, time.Millisecond)
}

func TestRegistry_SubscriberSwitchesOneshotToInteractive(t *testing.T) {
	mock := clock.NewMock()
	r := setupTestRegistry(t, mock)
	ctx := context.Background()

	_, err := r.CreateWithoutConnection(ctx, "thr-w", "proj", "svc")
	require.NoError(t, err)

	// A browser attaches: the instance is interactive from here on.
	_, err = r.GetOrCreate(ctx, "thr-w", "proj", "svc", &testSub{})
	require.NoError(t, err)

	mock.Add(45 * time.Minute)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_CleanupIdempotent(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", &testSub{})
	require.NoError(t, err)

	require.NoError(t, r.Cleanup(ctx, "thr-1"))
	require.NoError(t, r.Cleanup(ctx, "thr-1"))
	require.NoError(t, r.Cleanup(ctx, "never-existed"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_Heartbeat(t *testing.T) {
	mock := clock.NewMock()
	r := setupTestRegistry(t, mock)
	ctx := context.Background()

	sub := &testSub{}
	_, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", sub)
	require.NoError(t, err)

	mock.Add(31 * time.Second)
	require.Eventually(t, func() bool {
		return strings.Contains(sub.contents(), `"type":"heartbeat"`)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_StopUnknownThread(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())

	err := r.Stop(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.GetHTTPStatus(err))
}

func TestRegistry_Shutdown(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", &testSub{})
	require.NoError(t, err)
	_, err = r.GetOrCreate(ctx, "thr-2", "proj", "alice", &testSub{})
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(ctx))
	assert.Equal(t, 0, r.Count())

	// Idempotent.
	require.NoError(t, r.Shutdown(ctx))
}

// Broadcast after cleanup must not panic even though all subscribers are gone.
func TestRegistry_CleanupClosesSubscribers(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	sub := &testSub{}
	inst, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", sub)
	require.NoError(t, err)
	require.NoError(t, r.Cleanup(ctx, "thr-1"))

	assert.Equal(t, 0, inst.ConnectionCount())
	inst.SendHeartbeat()
	assert.NotContains(t, sub.contents(), "heartbeat")
}

func TestRegistry_EchoEndToEnd(t *testing.T) {
	r := setupTestRegistry(t, clock.NewMock())
	ctx := context.Background()

	sub := &testSub{}
	inst, err := r.GetOrCreate(ctx, "thr-1", "proj", "alice", sub)
	require.NoError(t, err)
	require.NoError(t, inst.Start(ctx))

	require.NoError(t, inst.SendAnswer(ctx, "hello", "", nil))

	require.Eventually(t, func() bool {
		return strings.Contains(sub.contents(), "You said: hello")
	}, 2*time.Second, 5*time.Millisecond)

	// The exchange is persisted for replay.
	require.Eventually(t, func() bool {
		msgs, err := inst.Messages(ctx)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	msgs, err := inst.Messages(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.RoleUser, msgs[0].Role)
	assert.Equal(t, events.RoleAssistant, msgs[1].Role)
}
