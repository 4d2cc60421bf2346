package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coday/coday/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus(newTestLogger(t))
	defer b.Close()

	var mu sync.Mutex
	var received []*Notification

	sub, err := b.Subscribe("coday.thread.instance.created", func(ctx context.Context, n *Notification) error {
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	n := NewNotification("instance.created", "registry", map[string]interface{}{"threadId": "thr-1"})
	require.NoError(t, b.Publish(context.Background(), SubjectInstanceCreated, n))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "instance.created", received[0].Type)
	assert.Equal(t, "thr-1", received[0].Data["threadId"])
}

func TestMemoryBus_WildcardSubjects(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		subject string
		match   bool
	}{
		{"exact", "coday.thread.thr-1.events", "coday.thread.thr-1.events", true},
		{"single token wildcard", "coday.thread.*.events", "coday.thread.thr-9.events", true},
		{"tail wildcard", "coday.thread.>", "coday.thread.thr-9.events", true},
		{"tail wildcard requires token", "coday.thread.>", "coday.thread", false},
		{"mismatched token", "coday.thread.*.events", "coday.thread.thr-9.status", false},
		{"shorter subject", "coday.thread.*.events", "coday.thread.thr-9", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, subjectMatches(tt.subject, tt.pattern))
		})
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus(newTestLogger(t))
	defer b.Close()

	count := 0
	sub, err := b.Subscribe("coday.thread.>", func(ctx context.Context, n *Notification) error {
		count++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), ThreadEventSubject("thr-1"), NewNotification("event", "test", nil)))
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())
	require.NoError(t, b.Publish(context.Background(), ThreadEventSubject("thr-1"), NewNotification("event", "test", nil)))

	assert.Equal(t, 1, count)
}

func TestMemoryBus_ClosedRejectsPublish(t *testing.T) {
	b := NewMemoryBus(newTestLogger(t))
	b.Close()

	assert.False(t, b.IsConnected())
	err := b.Publish(context.Background(), SubjectInstanceCleaned, NewNotification("x", "test", nil))
	assert.Error(t, err)
}
