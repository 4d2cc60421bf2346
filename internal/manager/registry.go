package manager

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events/bus"
	"github.com/coday/coday/internal/manager/broadcast"
	"github.com/coday/coday/internal/manager/timeout"
	"github.com/coday/coday/internal/runtime"
	"github.com/coday/coday/internal/thread/store"
	"github.com/coday/coday/pkg/agentos"
)

// Config selects the backend and carries the timeout policies.
type Config struct {
	Timeouts          timeout.Config
	HeartbeatInterval time.Duration
	UseAgentOS        bool
	AgentOSURL        string
}

// Deps are the registry's collaborators. Clock defaults to the wall clock
// and Factory to the built-in echo engine when left nil.
type Deps struct {
	Clock   clock.Clock
	Bus     bus.Bus
	Store   store.Store
	Factory runtime.Factory
	AgentOS *agentos.Client
	Logger  *logger.Logger
}

// Registry is the process-wide mapping from thread-id to live instance. It
// owns instance lifetimes, picks the backend, drives the global heartbeat
// tick and orchestrates shutdown.
type Registry struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	instances map[string]Instance

	heartbeat     *clock.Ticker
	stopHeartbeat chan struct{}
	shutdownOnce  sync.Once
}

// NewRegistry creates the registry and starts its heartbeat ticker.
func NewRegistry(cfg Config, deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Factory == nil {
		deps.Factory = runtime.EchoFactory
	}
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if cfg.UseAgentOS && deps.AgentOS == nil {
		deps.AgentOS = agentos.NewClient(cfg.AgentOSURL, deps.Logger)
	}

	r := &Registry{
		cfg:           cfg,
		deps:          deps,
		instances:     make(map[string]Instance),
		heartbeat:     deps.Clock.Ticker(cfg.HeartbeatInterval),
		stopHeartbeat: make(chan struct{}),
	}
	go r.heartbeatLoop()
	return r
}

// GetOrCreate returns the thread's instance, creating it on first contact,
// and attaches the subscriber. Cross-user access is rejected.
func (r *Registry) GetOrCreate(ctx context.Context, threadID, project, username string, sub broadcast.Subscriber) (Instance, error) {
	r.mu.Lock()
	inst, ok := r.instances[threadID]
	if !ok {
		inst = r.newInstance(threadID, project, username)
		r.instances[threadID] = inst
	}
	r.mu.Unlock()

	if inst.Username() != username {
		return nil, apperrors.Forbidden("thread belongs to another user")
	}

	if !ok {
		r.publishLifecycle(ctx, bus.SubjectInstanceCreated, inst)
	}
	if sub != nil {
		inst.AddConnection(sub)
	}
	return inst, nil
}

// CreateWithoutConnection creates an instance for webhook-driven threads:
// no subscriber, oneshot inactivity window.
func (r *Registry) CreateWithoutConnection(ctx context.Context, threadID, project, username string) (Instance, error) {
	r.mu.Lock()
	inst, ok := r.instances[threadID]
	if !ok {
		inst = r.newInstance(threadID, project, username)
		r.instances[threadID] = inst
	}
	r.mu.Unlock()

	if inst.Username() != username {
		return nil, apperrors.Forbidden("thread belongs to another user")
	}

	if !ok {
		inst.MarkOneshot()
		r.publishLifecycle(ctx, bus.SubjectInstanceCreated, inst)
	}
	return inst, nil
}

// Get returns the live instance for the thread, if any.
func (r *Registry) Get(threadID string) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[threadID]
	return inst, ok
}

// RemoveConnection detaches a subscriber. A zero connection count does not
// delete the instance; the disconnect timeout will.
func (r *Registry) RemoveConnection(threadID string, sub broadcast.Subscriber) {
	if inst, ok := r.Get(threadID); ok {
		inst.RemoveConnection(sub)
	}
}

// Stop cancels the thread's current turn.
func (r *Registry) Stop(ctx context.Context, threadID string) error {
	inst, ok := r.Get(threadID)
	if !ok {
		return apperrors.NotFound("thread", threadID)
	}
	return inst.Stop(ctx)
}

// Cleanup removes the instance from the registry and tears it down.
// Idempotent: unknown thread-ids are a no-op.
func (r *Registry) Cleanup(ctx context.Context, threadID string) error {
	r.mu.Lock()
	inst, ok := r.instances[threadID]
	if ok {
		delete(r.instances, threadID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := inst.Cleanup(ctx); err != nil {
		r.deps.Logger.Warn("instance cleanup failed", zap.String("thread_id", threadID), zap.Error(err))
	}
	r.publishLifecycle(ctx, bus.SubjectInstanceCleaned, inst)
	return nil
}

// Count returns the number of live instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Shutdown stops the heartbeat and cleans every instance up concurrently.
// Idempotent; returns once all cleanups completed.
func (r *Registry) Shutdown(ctx context.Context) error {
	var err error
	r.shutdownOnce.Do(func() {
		close(r.stopHeartbeat)
		r.heartbeat.Stop()

		r.mu.Lock()
		instances := make([]Instance, 0, len(r.instances))
		for _, inst := range r.instances {
			instances = append(instances, inst)
		}
		r.instances = make(map[string]Instance)
		r.mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		for _, inst := range instances {
			inst := inst
			g.Go(func() error { return inst.Cleanup(gctx) })
		}
		err = g.Wait()
		r.deps.Logger.Info("registry shut down", zap.Int("instances", len(instances)))
	})
	return err
}

func (r *Registry) newInstance(threadID, project, username string) Instance {
	// The timeout callback captures the registry as a plain closure; the
	// instance keeps no back-pointer and stays independently testable.
	onTimeout := func(reason timeout.Reason) {
		r.deps.Logger.Info("instance expired",
			zap.String("thread_id", threadID), zap.String("reason", string(reason)))
		_ = r.Cleanup(context.Background(), threadID)
	}

	if r.cfg.UseAgentOS {
		return NewRemoteInstance(threadID, project, username, r.deps.Clock,
			r.cfg.Timeouts, onTimeout, r.deps.AgentOS, r.deps.Logger)
	}
	return NewLocalInstance(threadID, project, username, r.deps.Clock,
		r.cfg.Timeouts, onTimeout, r.deps.Factory, r.deps.Store, r.deps.Bus, r.deps.Logger)
}

func (r *Registry) publishLifecycle(ctx context.Context, subject string, inst Instance) {
	if r.deps.Bus == nil {
		return
	}
	n := bus.NewNotification(subject, "coday-server", map[string]interface{}{
		"threadId": inst.ThreadID(),
		"project":  inst.Project(),
		"username": inst.Username(),
	})
	if err := r.deps.Bus.Publish(ctx, subject, n); err != nil {
		r.deps.Logger.Debug("lifecycle publish failed", zap.Error(err))
	}
}

// heartbeatLoop broadcasts a keep-alive to every instance with at least one
// subscriber on each tick.
func (r *Registry) heartbeatLoop() {
	for {
		select {
		case <-r.stopHeartbeat:
			return
		case <-r.heartbeat.C:
			r.mu.Lock()
			instances := make([]Instance, 0, len(r.instances))
			for _, inst := range r.instances {
				instances = append(instances, inst)
			}
			r.mu.Unlock()

			for _, inst := range instances {
				inst.SendHeartbeat()
			}
		}
	}
}
