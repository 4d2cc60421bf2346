// Package store persists thread conversation messages. The on-disk format is
// one YAML document per thread, matching the server's yaml-on-disk
// repositories for projects and users.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/coday/coday/internal/events"
)

// Sentinel errors surfaced to the message router.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotUserMessage  = errors.New("message is not a user message")
	ErrFirstMessage    = errors.New("cannot truncate at the first message")
)

// Message is one persisted conversation message. ID is the event timestamp
// string, which doubles as the message's event-id on the wire.
type Message struct {
	ID        string                `json:"id" yaml:"id"`
	Role      string                `json:"role" yaml:"role"`
	Name      string                `json:"name" yaml:"name"`
	Content   []events.ContentBlock `json:"content" yaml:"content"`
	CreatedAt time.Time             `json:"createdAt" yaml:"createdAt"`
}

// Event converts the persisted message back into its wire event.
func (m Message) Event() events.Event {
	return events.Event{
		Type:      events.TypeMessage,
		Timestamp: m.ID,
		Role:      m.Role,
		Name:      m.Name,
		Content:   m.Content,
	}
}

// Store is the thread message repository contract.
type Store interface {
	// AppendMessage appends a message to the thread, creating it if needed.
	AppendMessage(ctx context.Context, project, threadID string, msg Message) error

	// Messages returns all messages of the thread in append order.
	Messages(ctx context.Context, project, threadID string) ([]Message, error)

	// GetMessage returns a single message by id.
	GetMessage(ctx context.Context, project, threadID, id string) (Message, error)

	// TruncateAt removes the identified user message and everything after it.
	// Fails with ErrMessageNotFound, ErrNotUserMessage or ErrFirstMessage.
	TruncateAt(ctx context.Context, project, threadID, id string) error
}
