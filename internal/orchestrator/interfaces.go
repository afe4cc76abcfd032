// Package orchestrator composes presence, the record store, the push
// channel, the connection hub, and the scheduler into the challenge
// handshake lifecycle. Dependencies are expressed as small capability
// interfaces rather than concrete package types, so the orchestrator
// can be constructed once with every collaborator already in hand
// instead of being built first and patched with callbacks afterward.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/handshake/coordinator/internal/recordstore"
	"github.com/handshake/coordinator/internal/scheduler"
)

// Locker serializes access to a single challenge's state.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Notifier delivers best-effort events to a user's live connections and
// registered devices. Neither delivery path blocks challenge state
// transitions: failures are logged by the implementation, not
// propagated as errors here.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, event string, payload map[string]interface{})
	NotifySession(ctx context.Context, sessionID string, userIDs []string, event string, payload map[string]interface{})
	PushToUser(ctx context.Context, userID string, title, body string, data map[string]string) bool
}

// TimeoutScheduler schedules and cancels the retry timers that drive
// HandleTimeout.
type TimeoutScheduler interface {
	ScheduleTimeout(jobID string, delay time.Duration, handler scheduler.Handler)
	CancelTimeout(jobID string) bool
}

// PresenceChecker answers whether a user currently has a live
// connection, without claiming authority over the challenge state
// machine.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Recorder appends audit trail events. A nil Recorder is valid — the
// orchestrator degrades to not recording rather than failing.
type Recorder interface {
	Record(ctx context.Context, challengeID, kind string, detail map[string]interface{})
}

// Clock abstracts the time source the orchestrator reads for expiry
// math. New always installs the system clock; no constructor option or
// setter replaces it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config carries the durations the orchestrator schedules against.
type Config struct {
	ChallengeExpiration time.Duration
	HandshakeTimeout    time.Duration
	MaxRetryAttempts    int
	LockTTL             time.Duration
}

// Orchestrator drives the challenge/session lifecycle described by the
// handshake state machine, composing its collaborators through the
// interfaces above.
type Orchestrator struct {
	store     recordstore.Store
	locker    Locker
	notifier  Notifier
	scheduler TimeoutScheduler
	presence  PresenceChecker
	recorder  Recorder
	clock     Clock
	cfg       Config
}

// New builds an Orchestrator. recorder may be nil.
func New(store recordstore.Store, locker Locker, notifier Notifier, scheduler TimeoutScheduler, presence PresenceChecker, recorder Recorder, cfg Config) *Orchestrator {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Orchestrator{
		store:     store,
		locker:    locker,
		notifier:  notifier,
		scheduler: scheduler,
		presence:  presence,
		recorder:  recorder,
		clock:     systemClock{},
		cfg:       cfg,
	}
}

type noopRecorder struct{}

func (noopRecorder) Record(ctx context.Context, challengeID, kind string, detail map[string]interface{}) {
}

func lockKey(challengeID string) string { return "challenge:" + challengeID }

func timeoutJobID(challengeID string, attempt int) string {
	if attempt <= 0 {
		attempt = 1
	}
	return fmt.Sprintf("timeout-%s-%d", challengeID, attempt)
}
