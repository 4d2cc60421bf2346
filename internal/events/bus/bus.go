// Package bus provides the notification bus used to observe thread lifecycle
// and agent activity from outside the execution manager (webhook triggers,
// audit consumers). NATS when configured, in-memory otherwise.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the server.
const (
	SubjectInstanceCreated = "coday.thread.instance.created"
	SubjectInstanceCleaned = "coday.thread.instance.cleaned"
)

// ThreadEventSubject returns the per-thread subject agent events are mirrored to.
func ThreadEventSubject(threadID string) string {
	return "coday.thread." + threadID + ".events"
}

// Notification is a message on the bus.
type Notification struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewNotification creates a notification with a UUID and current timestamp.
func NewNotification(notificationType, source string, data map[string]interface{}) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		Type:      notificationType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler is a function that handles a notification.
type Handler func(ctx context.Context, n *Notification) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the notification bus contract.
type Bus interface {
	// Publish sends a notification to a subject.
	Publish(ctx context.Context, subject string, n *Notification) error

	// Subscribe creates a subscription to a subject pattern.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// Close closes the connection.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}
