package store

import (
	"context"
	"sync"

	"github.com/coday/coday/internal/events"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral threads.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string][]Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Message)}
}

func key(project, threadID string) string {
	return project + "/" + threadID
}

// AppendMessage appends a message to the thread.
func (s *MemoryStore) AppendMessage(ctx context.Context, project, threadID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(project, threadID)
	s.threads[k] = append(s.threads[k], msg)
	return nil
}

// Messages returns all messages of the thread in append order.
func (s *MemoryStore) Messages(ctx context.Context, project, threadID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.threads[key(project, threadID)]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// GetMessage returns a single message by id.
func (s *MemoryStore) GetMessage(ctx context.Context, project, threadID, id string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.threads[key(project, threadID)] {
		if msg.ID == id {
			return msg, nil
		}
	}
	return Message{}, ErrMessageNotFound
}

// TruncateAt removes the identified user message and everything after it.
func (s *MemoryStore) TruncateAt(ctx context.Context, project, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(project, threadID)
	msgs := s.threads[k]

	index := -1
	for i, msg := range msgs {
		if msg.ID == id {
			index = i
			break
		}
	}
	if index == -1 {
		return ErrMessageNotFound
	}
	if msgs[index].Role != events.RoleUser {
		return ErrNotUserMessage
	}
	if index == 0 {
		return ErrFirstMessage
	}

	s.threads[k] = msgs[:index]
	return nil
}
