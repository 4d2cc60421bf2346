package manager

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	apperrors "github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
	"github.com/coday/coday/internal/events/bus"
	"github.com/coday/coday/internal/manager/broadcast"
	"github.com/coday/coday/internal/manager/timeout"
	"github.com/coday/coday/internal/runtime"
	"github.com/coday/coday/internal/thread/store"
)

// LocalInstance runs the agent engine inside this process. Every engine
// event flows through a single drain goroutine that persists messages,
// mirrors them to the notification bus and broadcasts them, which gives the
// per-thread ordering the SSE stream relies on.
type LocalInstance struct {
	instanceBase

	factory  runtime.Factory
	messages store.Store
	notify   bus.Bus

	mu        sync.Mutex
	rt        runtime.Runtime
	prepared  bool
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc

	// streamMu serializes persist+broadcast against subscriber registration,
	// so every message reaches a subscriber through replay or live delivery
	// but never both.
	streamMu sync.Mutex

	cleanupOnce sync.Once
}

// NewLocalInstance creates an unprepared local instance.
func NewLocalInstance(threadID, project, username string, clk clock.Clock,
	tcfg timeout.Config, onTimeout func(timeout.Reason), factory runtime.Factory,
	messages store.Store, notify bus.Bus, log *logger.Logger) *LocalInstance {
	runCtx, runCancel := context.WithCancel(context.Background())
	return &LocalInstance{
		instanceBase: newInstanceBase(threadID, project, username, clk, tcfg, onTimeout, log),
		factory:      factory,
		messages:     messages,
		notify:       notify,
		runCtx:       runCtx,
		runCancel:    runCancel,
	}
}

// Prepare constructs the engine and wires its event stream into the
// broadcaster. It does not start the agent loop. Returns false on re-entry.
func (i *LocalInstance) Prepare(ctx context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.prepared {
		return false, nil
	}

	rt, err := i.factory(i.threadID, i.project, i.username)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to construct agent runtime")
	}
	i.rt = rt
	i.prepared = true

	go i.drain(rt.Events())
	return true, nil
}

// Start prepares the instance and kicks the agent loop in the background.
// Loop errors surface as error events, never through this return value.
func (i *LocalInstance) Start(ctx context.Context) error {
	if _, err := i.Prepare(ctx); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		return nil
	}
	i.started = true

	rt := i.rt
	go func() {
		if err := rt.Run(i.runCtx); err != nil {
			i.logger.Error("agent loop failed", zap.Error(err))
			i.broadcaster.Broadcast(events.NewError(err.Error()))
		}
	}()
	return nil
}

// Stop cooperatively cancels the current agent turn.
func (i *LocalInstance) Stop(ctx context.Context) error {
	i.mu.Lock()
	rt := i.rt
	i.mu.Unlock()

	if rt != nil {
		rt.StopTurn()
	}
	return nil
}

// Cleanup tears the instance down: timers, subscribers, engine. Idempotent.
func (i *LocalInstance) Cleanup(ctx context.Context) error {
	i.cleanupOnce.Do(func() {
		i.supervisor.Stop()
		i.runCancel()

		i.mu.Lock()
		rt := i.rt
		i.mu.Unlock()
		if rt != nil {
			if err := rt.Close(); err != nil {
				i.logger.Warn("agent runtime close failed", zap.Error(err))
			}
		}

		i.broadcaster.CloseAll()
		i.logger.Info("local instance cleaned up")
	})
	return nil
}

// AddConnection attaches a subscriber. Once the engine is prepared, the
// persisted conversation is replayed to the new subscriber before any live
// broadcast reaches it.
func (i *LocalInstance) AddConnection(sub broadcast.Subscriber) {
	i.mu.Lock()
	prepared := i.prepared
	i.mu.Unlock()

	if !prepared {
		i.addConnection(sub, nil)
		return
	}

	// Snapshot the history at the registration point. Messages persisted
	// before it arrive through the replay, messages broadcast after it
	// arrive live, and no message does both.
	i.streamMu.Lock()
	defer i.streamMu.Unlock()

	msgs, err := i.messages.Messages(context.Background(), i.project, i.threadID)
	i.addConnection(sub, func(target broadcast.Subscriber) error {
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			frame, ferr := broadcast.Frame(msg.Event())
			if ferr != nil {
				return ferr
			}
			if _, werr := target.Write(frame); werr != nil {
				return werr
			}
		}
		return nil
	})
}

// SendAnswer routes a user answer into the engine, starting it if needed.
func (i *LocalInstance) SendAnswer(ctx context.Context, answer, answerToEventID string, content []events.ContentBlock) error {
	if err := i.Start(ctx); err != nil {
		return err
	}
	i.touch()

	i.mu.Lock()
	rt := i.rt
	i.mu.Unlock()

	return rt.Submit(ctx, runtime.Inbound{
		Answer:          answer,
		AnswerToEventID: answerToEventID,
		Content:         content,
	})
}

// SendOAuthCallback hands a completed OAuth flow to the engine's
// integration path.
func (i *LocalInstance) SendOAuthCallback(ctx context.Context, cb runtime.OAuthCallback) error {
	if err := i.Start(ctx); err != nil {
		return err
	}
	i.touch()

	i.mu.Lock()
	rt := i.rt
	i.mu.Unlock()

	return rt.OAuthCallback(ctx, cb)
}

// Messages returns the persisted conversation.
func (i *LocalInstance) Messages(ctx context.Context) ([]store.Message, error) {
	return i.messages.Messages(ctx, i.project, i.threadID)
}

// TruncateAt removes the identified user message and everything after it.
func (i *LocalInstance) TruncateAt(ctx context.Context, messageID string) error {
	return i.messages.TruncateAt(ctx, i.project, i.threadID, messageID)
}

// drain is the single consumer of the engine's event stream. Message events
// are persisted before broadcasting, both under streamMu, so a replay
// snapshot taken at any registration point sees a consistent prefix of the
// conversation.
func (i *LocalInstance) drain(stream <-chan events.Event) {
	for event := range stream {
		i.streamMu.Lock()
		if event.Type == events.TypeMessage {
			msg := store.Message{
				ID:        event.Timestamp,
				Role:      event.Role,
				Name:      event.Name,
				Content:   event.Content,
				CreatedAt: i.clock.Now(),
			}
			if err := i.messages.AppendMessage(i.runCtx, i.project, i.threadID, msg); err != nil {
				i.logger.Error("failed to persist message", zap.Error(err))
			}
		}
		i.broadcaster.Broadcast(event)
		i.streamMu.Unlock()

		i.publishToBus(event)
	}
}

func (i *LocalInstance) publishToBus(event events.Event) {
	if i.notify == nil {
		return
	}
	n := bus.NewNotification(event.Type, "coday-server", map[string]interface{}{
		"threadId": i.threadID,
		"project":  i.project,
	})
	if err := i.notify.Publish(i.runCtx, bus.ThreadEventSubject(i.threadID), n); err != nil {
		i.logger.Debug("bus publish failed", zap.Error(err))
	}
}
