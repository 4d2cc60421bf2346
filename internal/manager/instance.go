// Package manager keeps one live execution instance per thread and fans its
// event stream out to the thread's SSE subscribers. Instances run on one of
// two backends: the in-process local runner or the AgentOS remote proxy.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/coday/coday/internal/common/logger"
	"github.com/coday/coday/internal/events"
	"github.com/coday/coday/internal/manager/broadcast"
	"github.com/coday/coday/internal/manager/timeout"
	"github.com/coday/coday/internal/runtime"
	"github.com/coday/coday/internal/thread/store"
)

// Instance is the uniform contract both backends implement. The registry
// exclusively owns instance lifetimes; subscribers are borrowed references
// registered and deregistered by the HTTP layer.
type Instance interface {
	ThreadID() string
	Project() string
	Username() string

	// AddConnection registers a subscriber, clears the oneshot flag and
	// disarms the disconnect timer. Idempotent.
	AddConnection(sub broadcast.Subscriber)
	// RemoveConnection deregisters a subscriber; when the last one leaves,
	// the disconnect grace timer is armed. The instance stays alive.
	RemoveConnection(sub broadcast.Subscriber)
	ConnectionCount() int

	// MarkOneshot switches to the short inactivity window. Only honored
	// while no subscribers are attached.
	MarkOneshot()

	// Prepare constructs the backend without starting execution. Returns
	// false when already prepared.
	Prepare(ctx context.Context) (bool, error)
	// Start prepares and kicks off execution in the background.
	Start(ctx context.Context) error
	// Stop cancels the current turn; the instance remains usable.
	Stop(ctx context.Context) error
	// Cleanup tears the instance down. Idempotent.
	Cleanup(ctx context.Context) error

	// SendHeartbeat broadcasts a keep-alive if any subscriber is attached.
	SendHeartbeat()
	// InactiveFor returns the time since the last user activity.
	InactiveFor() time.Duration

	// SendAnswer routes a user answer into the backend.
	SendAnswer(ctx context.Context, answer, answerToEventID string, content []events.ContentBlock) error
	// SendOAuthCallback routes a completed OAuth flow to the integration
	// subsystem, separately from answers.
	SendOAuthCallback(ctx context.Context, cb runtime.OAuthCallback) error

	// Messages returns the persisted conversation. Local backend only.
	Messages(ctx context.Context) ([]store.Message, error)
	// TruncateAt removes a user message and everything after it. Local only.
	TruncateAt(ctx context.Context, messageID string) error
}

// instanceBase carries the bookkeeping shared by both backends: the
// subscriber set, activity tracking and timer interaction.
type instanceBase struct {
	threadID string
	project  string
	username string

	clock       clock.Clock
	broadcaster *broadcast.Broadcaster
	supervisor  *timeout.Supervisor
	logger      *logger.Logger

	activityMu   sync.Mutex
	lastActivity time.Time
}

func newInstanceBase(threadID, project, username string, clk clock.Clock,
	tcfg timeout.Config, onTimeout func(timeout.Reason), log *logger.Logger) instanceBase {
	log = log.WithThreadID(threadID).WithProject(project).WithUsername(username)
	return instanceBase{
		threadID:     threadID,
		project:      project,
		username:     username,
		clock:        clk,
		broadcaster:  broadcast.New(log),
		supervisor:   timeout.New(tcfg, clk, onTimeout),
		logger:       log,
		lastActivity: clk.Now(),
	}
}

func (b *instanceBase) ThreadID() string { return b.threadID }
func (b *instanceBase) Project() string  { return b.project }
func (b *instanceBase) Username() string { return b.username }

// addConnection performs the standard bookkeeping; replay may be nil.
func (b *instanceBase) addConnection(sub broadcast.Subscriber, replay broadcast.ReplayFunc) {
	if b.broadcaster.Contains(sub) {
		return
	}
	b.broadcaster.AddWithReplay(sub, replay)

	// An interactive subscriber is present: back to the long window.
	b.supervisor.MarkInteractive()
	b.supervisor.DisarmDisconnect()
	b.touch()
}

func (b *instanceBase) RemoveConnection(sub broadcast.Subscriber) {
	b.broadcaster.Remove(sub)
	if b.broadcaster.Count() == 0 {
		b.supervisor.ArmDisconnect()
	}
}

func (b *instanceBase) ConnectionCount() int {
	return b.broadcaster.Count()
}

func (b *instanceBase) MarkOneshot() {
	if b.broadcaster.Count() > 0 {
		return
	}
	b.supervisor.MarkOneshot()
}

func (b *instanceBase) SendHeartbeat() {
	if b.broadcaster.Count() == 0 {
		return
	}
	b.broadcaster.Broadcast(events.NewHeartbeat())
}

func (b *instanceBase) InactiveFor() time.Duration {
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	return b.clock.Now().Sub(b.lastActivity)
}

// touch records user activity and re-arms the inactivity window.
func (b *instanceBase) touch() {
	b.activityMu.Lock()
	b.lastActivity = b.clock.Now()
	b.activityMu.Unlock()
	b.supervisor.ResetInactivity()
}
