package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
)

func newYAMLStore(t *testing.T) *YAMLStore {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	s, err := NewYAMLStore(t.TempDir(), log)
	require.NoError(t, err)
	return s
}

func textMessage(id, role, text string) Message {
	return Message{
		ID:        id,
		Role:      role,
		Name:      role,
		Content:   []events.ContentBlock{{Type: events.ContentText, Content: text}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestYAMLStore_AppendAndRead(t *testing.T) {
	s := newYAMLStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t1", "user", "hello")))
	require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t2", "assistant", "hi")))

	msgs, err := s.Messages(ctx, "proj", "thr-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "t1", msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content[0].Content)
	assert.Equal(t, "t2", msgs[1].ID)
}

func TestYAMLStore_PersistsAcrossInstances(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewYAMLStore(dir, log)
	require.NoError(t, err)
	require.NoError(t, s1.AppendMessage(ctx, "proj", "thr-1", textMessage("t1", "user", "hello")))

	s2, err := NewYAMLStore(dir, log)
	require.NoError(t, err)
	msgs, err := s2.Messages(ctx, "proj", "thr-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content[0].Content)
}

func TestYAMLStore_GetMessage(t *testing.T) {
	s := newYAMLStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t1", "user", "hello")))

	msg, err := s.GetMessage(ctx, "proj", "thr-1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "user", msg.Role)

	_, err = s.GetMessage(ctx, "proj", "thr-1", "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestYAMLStore_TruncateAt(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *YAMLStore {
		s := newYAMLStore(t)
		require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t1", "user", "first")))
		require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t2", "assistant", "reply")))
		require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t3", "user", "second")))
		require.NoError(t, s.AppendMessage(ctx, "proj", "thr-1", textMessage("t4", "assistant", "reply2")))
		return s
	}

	t.Run("removes the message and everything after", func(t *testing.T) {
		s := setup(t)
		require.NoError(t, s.TruncateAt(ctx, "proj", "thr-1", "t3"))

		msgs, err := s.Messages(ctx, "proj", "thr-1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "t2", msgs[1].ID)
	})

	t.Run("rejects unknown id", func(t *testing.T) {
		s := setup(t)
		assert.ErrorIs(t, s.TruncateAt(ctx, "proj", "thr-1", "missing"), ErrMessageNotFound)
	})

	t.Run("rejects assistant message", func(t *testing.T) {
		s := setup(t)
		assert.ErrorIs(t, s.TruncateAt(ctx, "proj", "thr-1", "t2"), ErrNotUserMessage)
	})

	t.Run("rejects first message", func(t *testing.T) {
		s := setup(t)
		assert.ErrorIs(t, s.TruncateAt(ctx, "proj", "thr-1", "t1"), ErrFirstMessage)
	})
}
