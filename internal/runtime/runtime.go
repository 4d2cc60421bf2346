// Package runtime defines the seam between a thread instance and the agent
// execution engine. The manager drives runtimes only through this interface;
// real LLM-backed engines live outside this repository.
package runtime

import (
	"context"

	"github.com/coday/coday/internal/events"
)

// Inbound is one user-originated item handed to the runtime: an answer to a
// pending invite, optionally with image content attached by the upload path.
type Inbound struct {
	Answer          string
	AnswerToEventID string
	Content         []events.ContentBlock
}

// OAuthCallback carries a completed OAuth flow back to the integration that
// requested it. It is routed separately from answers.
type OAuthCallback struct {
	Integration string
	Code        string
	State       string
}

// Runtime is one live agent engine bound to a single thread.
//
// Run blocks until the context is cancelled or Close is called; everything
// the engine produces is delivered on Events in emission order. The channel
// is closed when the engine terminates.
type Runtime interface {
	Run(ctx context.Context) error
	Events() <-chan events.Event
	Submit(ctx context.Context, in Inbound) error
	OAuthCallback(ctx context.Context, cb OAuthCallback) error
	StopTurn()
	Close() error
}

// Factory builds a runtime for a thread. The registry holds one factory and
// calls it from the local backend's prepare step.
type Factory func(threadID, project, username string) (Runtime, error)
