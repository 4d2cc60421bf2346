package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/coday/coday/internal/events"
)

// echoInput is one queued item: a user submission or an OAuth completion.
type echoInput struct {
	in    Inbound
	oauth *OAuthCallback
}

// EchoRuntime is the built-in engine used when no external agent runtime is
// wired in. It answers every submission by echoing it back, which keeps the
// whole local pipeline (persistence, replay, SSE) runnable end to end.
// Run's goroutine is the only writer of the output channel; all input goes
// through the inbound queue.
type EchoRuntime struct {
	name    string
	out     chan events.Event
	inbound chan echoInput

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEchoRuntime creates an echo engine answering under the given agent name.
func NewEchoRuntime(name string) *EchoRuntime {
	if name == "" {
		name = "coday"
	}
	return &EchoRuntime{
		name:    name,
		out:     make(chan events.Event, 64),
		inbound: make(chan echoInput, 16),
		closed:  make(chan struct{}),
	}
}

// EchoFactory is a Factory producing EchoRuntimes.
func EchoFactory(threadID, project, username string) (Runtime, error) {
	return NewEchoRuntime("coday"), nil
}

// Run processes submissions until the context ends or Close is called.
func (r *EchoRuntime) Run(ctx context.Context) error {
	defer close(r.out)

	r.emit(ctx, events.NewInvite("What can I do for you?"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.closed:
			return nil
		case input := <-r.inbound:
			if input.oauth != nil {
				r.emit(ctx, events.NewWarn(
					fmt.Sprintf("oauth callback received for %s", input.oauth.Integration)))
				continue
			}
			r.respond(ctx, input.in)
		}
	}
}

// Events returns the engine's output stream.
func (r *EchoRuntime) Events() <-chan events.Event {
	return r.out
}

// Submit queues one user answer for processing.
func (r *EchoRuntime) Submit(ctx context.Context, in Inbound) error {
	return r.enqueue(ctx, echoInput{in: in})
}

// OAuthCallback acknowledges a completed OAuth flow. The echo engine has no
// integrations, so it only surfaces the completion to the stream.
func (r *EchoRuntime) OAuthCallback(ctx context.Context, cb OAuthCallback) error {
	return r.enqueue(ctx, echoInput{oauth: &cb})
}

func (r *EchoRuntime) enqueue(ctx context.Context, input echoInput) error {
	select {
	case <-r.closed:
		return fmt.Errorf("runtime closed")
	default:
	}
	select {
	case <-r.closed:
		return fmt.Errorf("runtime closed")
	case <-ctx.Done():
		return ctx.Err()
	case r.inbound <- input:
		return nil
	}
}

// StopTurn is a no-op: echo responses complete immediately.
func (r *EchoRuntime) StopTurn() {}

// Close terminates the engine. Idempotent.
func (r *EchoRuntime) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *EchoRuntime) respond(ctx context.Context, in Inbound) {
	// Echo the user turn first so the drain loop persists it like any other
	// message event.
	userEvent := events.Event{
		Type:      events.TypeMessage,
		Timestamp: events.NewTimestamp(),
		Role:      events.RoleUser,
		Name:      "user",
		Content:   in.Content,
	}
	if in.Answer != "" {
		userEvent.Content = append(userEvent.Content,
			events.ContentBlock{Type: events.ContentText, Content: in.Answer})
	}
	r.emit(ctx, userEvent)

	r.emit(ctx, events.NewThinking())
	r.emit(ctx, events.NewMessage(events.RoleAssistant, r.name, "You said: "+in.Answer))
	r.emit(ctx, events.NewInvite("What can I do for you?"))
}

func (r *EchoRuntime) emit(ctx context.Context, event events.Event) {
	select {
	case <-ctx.Done():
	case <-r.closed:
	case r.out <- event:
	}
}
