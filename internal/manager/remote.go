package manager

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	apperrors "github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
	"github.com/coday/coday/internal/manager/broadcast"
	"github.com/coday/coday/internal/manager/timeout"
	"github.com/coday/coday/internal/runtime"
	"github.com/coday/coday/internal/thread/store"
	"github.com/coday/coday/pkg/agentos"
)

// RemoteInstance delegates execution to an AgentOS case. The local process
// is a protocol adaptor: remote SSE records are mapped onto the local event
// taxonomy and broadcast, user input is forwarded as case messages.
type RemoteInstance struct {
	instanceBase

	client *agentos.Client

	mu           sync.Mutex
	caseID       string
	streamCancel context.CancelFunc

	cleanupOnce sync.Once
}

// NewRemoteInstance creates an unprepared remote instance.
func NewRemoteInstance(threadID, project, username string, clk clock.Clock,
	tcfg timeout.Config, onTimeout func(timeout.Reason), client *agentos.Client,
	log *logger.Logger) *RemoteInstance {
	return &RemoteInstance{
		instanceBase: newInstanceBase(threadID, project, username, clk, tcfg, onTimeout, log),
		client:       client,
	}
}

// Prepare creates the remote case and starts consuming its event stream.
// A synthetic invite unblocks the browser before the remote produces
// anything. Returns false when the case already exists.
func (i *RemoteInstance) Prepare(ctx context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.caseID != "" {
		return false, nil
	}

	caseID, err := i.client.CreateCase(ctx, i.project)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to create remote case")
	}
	i.caseID = caseID

	streamCtx, cancel := context.WithCancel(context.Background())
	i.streamCancel = cancel
	go i.consumeStream(streamCtx, caseID)

	i.broadcaster.Broadcast(events.NewInvite("What can I do for you?"))
	i.logger.Info("remote case created", zap.String("case_id", caseID))
	return true, nil
}

// Start is equivalent to Prepare: the remote case executes on creation.
func (i *RemoteInstance) Start(ctx context.Context) error {
	_, err := i.Prepare(ctx)
	return err
}

func (i *RemoteInstance) consumeStream(ctx context.Context, caseID string) {
	err := i.client.StreamEvents(ctx, caseID, func(remote agentos.RemoteEvent) {
		event, ok := agentos.MapEvent(remote, i.logger)
		if !ok {
			return
		}
		i.broadcaster.Broadcast(event)
	})
	if err != nil {
		i.logger.Error("remote event stream failed", zap.String("case_id", caseID), zap.Error(err))
		i.broadcaster.Broadcast(events.NewError(err.Error()))
	}
	// No auto-reconnect: the stream stays down until cleanup.
	i.logger.Debug("remote event stream ended", zap.String("case_id", caseID))
}

// Stop halts the current remote turn. Fire-and-forget.
func (i *RemoteInstance) Stop(ctx context.Context) error {
	i.mu.Lock()
	caseID := i.caseID
	i.mu.Unlock()

	if caseID != "" {
		i.client.StopCase(ctx, caseID)
	}
	return nil
}

// Cleanup cancels the SSE consumer, closes subscribers and destroys the
// remote case best-effort. Idempotent.
func (i *RemoteInstance) Cleanup(ctx context.Context) error {
	i.cleanupOnce.Do(func() {
		i.supervisor.Stop()

		i.mu.Lock()
		caseID := i.caseID
		cancel := i.streamCancel
		i.caseID = ""
		i.streamCancel = nil
		i.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		i.broadcaster.CloseAll()

		if caseID != "" {
			deleteCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := i.client.DeleteCase(deleteCtx, caseID); err != nil {
				i.logger.Warn("remote case delete failed", zap.String("case_id", caseID), zap.Error(err))
			}
		}
		i.logger.Info("remote instance cleaned up")
	})
	return nil
}

// AddConnection attaches a subscriber. The remote keeps the conversation,
// so there is no local history to replay.
func (i *RemoteInstance) AddConnection(sub broadcast.Subscriber) {
	i.addConnection(sub, nil)
}

// SendAnswer forwards the answer to the remote case.
func (i *RemoteInstance) SendAnswer(ctx context.Context, answer, answerToEventID string, content []events.ContentBlock) error {
	if err := i.Start(ctx); err != nil {
		return err
	}
	i.touch()

	i.mu.Lock()
	caseID := i.caseID
	i.mu.Unlock()

	if err := i.client.SendMessage(ctx, caseID, answer, i.username, answerToEventID); err != nil {
		return apperrors.Wrap(err, "failed to forward message to remote case")
	}
	return nil
}

// SendOAuthCallback is not available on the remote backend: integrations
// live on the remote side and complete their flows there.
func (i *RemoteInstance) SendOAuthCallback(ctx context.Context, cb runtime.OAuthCallback) error {
	return apperrors.NotSupported("oauth callbacks are not supported on the AgentOS backend")
}

// Messages is not available on the remote backend.
func (i *RemoteInstance) Messages(ctx context.Context) ([]store.Message, error) {
	return nil, apperrors.NotSupported("listing messages is not supported on the AgentOS backend")
}

// TruncateAt is not available on the remote backend.
func (i *RemoteInstance) TruncateAt(ctx context.Context, messageID string) error {
	return apperrors.NotSupported("message truncation is not supported on the AgentOS backend")
}
