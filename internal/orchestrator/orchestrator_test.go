package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/orchestrator"
	"github.com/handshake/coordinator/internal/recordstore"
	"github.com/handshake/coordinator/internal/scheduler"
)

// fakeLocker runs fn inline, under one real mutex shared by every lock
// name, so tests exercise the same serialization contract without a
// Redis dependency.
type fakeLocker struct {
	mu sync.Mutex
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

type notification struct {
	kind    string // "user" or "session" or "push"
	target  string
	event   string
	payload map[string]interface{}
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []notification
	online  map[string]bool
	pushOK  bool
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, userID, event string, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "user", target: userID, event: event, payload: payload})
}

func (n *fakeNotifier) NotifySession(ctx context.Context, sessionID string, userIDs []string, event string, payload map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "session", target: sessionID, event: event, payload: payload})
}

func (n *fakeNotifier) PushToUser(ctx context.Context, userID string, title, body string, data map[string]string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind: "push", target: userID, event: title})
	return n.pushOK
}

func (n *fakeNotifier) events(kind, target string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, e := range n.sent {
		if e.kind == kind && e.target == target {
			out = append(out, e)
		}
	}
	return out
}

// fakeScheduler records scheduled/cancelled jobs without ever firing
// them; tests invoke HandleTimeout directly to simulate firing.
type fakeScheduler struct {
	mu       sync.Mutex
	pending  map[string]bool
	handlers map[string]scheduler.Handler
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: map[string]bool{}, handlers: map[string]scheduler.Handler{}}
}

func (s *fakeScheduler) ScheduleTimeout(jobID string, delay time.Duration, handler scheduler.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[jobID] = true
	s.handlers[jobID] = handler
}

func (s *fakeScheduler) CancelTimeout(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.pending[jobID]
	delete(s.pending, jobID)
	delete(s.handlers, jobID)
	return had
}

type fakePresence struct {
	online map[string]bool
}

func (p *fakePresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.online[userID], nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *fakeRecorder) Record(ctx context.Context, challengeID, kind string, detail map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *recordstore.MemoryStore, *fakeNotifier, *fakeScheduler, *fakePresence, *fakeRecorder) {
	t.Helper()
	store := recordstore.NewMemoryStore()
	notifier := &fakeNotifier{pushOK: true}
	sched := newFakeScheduler()
	presence := &fakePresence{online: map[string]bool{}}
	recorder := &fakeRecorder{}

	o := orchestrator.New(store, &fakeLocker{}, notifier, sched, presence, recorder, orchestrator.Config{
		ChallengeExpiration: time.Minute,
		HandshakeTimeout:    time.Minute,
		MaxRetryAttempts:    3,
		LockTTL:             5 * time.Second,
	})
	return o, store, notifier, sched, presence, recorder
}

func seedUsers(t *testing.T, store *recordstore.MemoryStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := store.CreateUser(context.Background(), &recordstore.User{UserID: id, ContactID: id + "@example.com"}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func TestCreateChallenge_RejectsSelfChallenge(t *testing.T) {
	o, store, _, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice")

	_, err := o.CreateChallenge(context.Background(), "c1", "alice", "alice", "chess", nil)
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestCreateChallenge_NotifiesChallenged(t *testing.T) {
	o, store, notifier, _, _, recorder := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")

	c, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil)
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if c.State != recordstore.StatePending {
		t.Errorf("expected PENDING, got %s", c.State)
	}
	if len(notifier.events("user", "bob")) == 0 {
		t.Error("expected challenge:received notification to bob")
	}
	if len(recorder.events) != 1 || recorder.events[0] != "CREATED" {
		t.Errorf("expected a single CREATED event, got %v", recorder.events)
	}
}

func TestInitiateHandshake_TransitionsToWaitingResponseAndSchedulesTimeout(t *testing.T) {
	o, store, notifier, sched, presence, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	presence.online["alice"] = true

	state, notified, err := o.InitiateHandshake(context.Background(), "c1", "bob")
	if err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}
	if state != recordstore.StateWaitingResponse {
		t.Errorf("expected WAITING_RESPONSE, got %s", state)
	}
	if !notified {
		t.Error("expected playerNotified true when challenger is online")
	}
	if len(notifier.events("user", "alice")) == 0 {
		t.Error("expected challenge:wake-up notification to alice")
	}

	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.Attempts != 1 {
		t.Errorf("expected attempts=1, got %d", c.Attempts)
	}
	sched.mu.Lock()
	pendingCount := len(sched.pending)
	sched.mu.Unlock()
	if pendingCount != 1 {
		t.Errorf("expected exactly one scheduled timeout job, got %d", pendingCount)
	}
}

func TestInitiateHandshake_RejectsWrongAcceptor(t *testing.T) {
	o, store, _, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob", "carol")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	_, _, err := o.InitiateHandshake(context.Background(), "c1", "carol")
	if !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestHandleWakeUpResponse_AcceptCreatesSession(t *testing.T) {
	o, store, notifier, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, _, err := o.InitiateHandshake(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}

	action, sessionID, err := o.HandleWakeUpResponse(context.Background(), "c1", "alice", recordstore.ResponseAccept)
	if err != nil {
		t.Fatalf("HandleWakeUpResponse: %v", err)
	}
	if action != "SESSION_CREATED" || sessionID == "" {
		t.Fatalf("expected SESSION_CREATED with a session id, got action=%s session=%s", action, sessionID)
	}

	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateActive {
		t.Errorf("expected ACTIVE, got %s", c.State)
	}
	if len(notifier.events("session", sessionID)) == 0 {
		t.Error("expected session:ready broadcast to the session")
	}
}

func TestHandleWakeUpResponse_DeclineEndsChallenge(t *testing.T) {
	o, store, notifier, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, _, err := o.InitiateHandshake(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}

	action, _, err := o.HandleWakeUpResponse(context.Background(), "c1", "alice", recordstore.ResponseDecline)
	if err != nil {
		t.Fatalf("HandleWakeUpResponse: %v", err)
	}
	if action != "declined" {
		t.Fatalf("expected declined, got %s", action)
	}
	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateDeclined {
		t.Errorf("expected DECLINED, got %s", c.State)
	}
	if len(notifier.events("user", "bob")) == 0 {
		t.Error("expected challenge:declined notification to bob")
	}
}

func TestHandleWakeUpResponse_RejectsInvalidValue(t *testing.T) {
	o, store, _, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, _, err := o.InitiateHandshake(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}

	_, _, err := o.HandleWakeUpResponse(context.Background(), "c1", "alice", recordstore.ResponseValue("MAYBE"))
	if !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestHandleTimeout_RetriesThenExpires(t *testing.T) {
	o, store, notifier, _, _, recorder := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, _, err := o.InitiateHandshake(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}

	o.HandleTimeout(context.Background(), "c1", 1)
	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateWaitingResponse {
		t.Fatalf("expected still WAITING_RESPONSE after first retry, got %s", c.State)
	}
	if c.Attempts != 2 {
		t.Errorf("expected attempts=2 after one retry, got %d", c.Attempts)
	}

	o.HandleTimeout(context.Background(), "c1", 2)
	o.HandleTimeout(context.Background(), "c1", 3)

	c, _ = store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateTimeout {
		t.Fatalf("expected TIMEOUT after max attempts, got %s", c.State)
	}
	if len(notifier.events("user", "bob")) == 0 {
		t.Error("expected challenge:timeout notification to bob")
	}
	found := false
	for _, e := range recorder.events {
		if e == "TIMED_OUT" {
			found = true
		}
	}
	if !found {
		t.Error("expected a TIMED_OUT timeline event")
	}
}

func TestHandleTimeout_NoOpIfAlreadyResolved(t *testing.T) {
	o, store, _, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if _, _, err := o.InitiateHandshake(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("InitiateHandshake: %v", err)
	}
	if _, _, err := o.HandleWakeUpResponse(context.Background(), "c1", "alice", recordstore.ResponseAccept); err != nil {
		t.Fatalf("HandleWakeUpResponse: %v", err)
	}

	// A stale timeout firing after the challenge already resolved must
	// not clobber the ACTIVE state.
	o.HandleTimeout(context.Background(), "c1", 1)

	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateActive {
		t.Errorf("expected stale timeout to be a no-op, got state %s", c.State)
	}
}

func TestDeclineByChallenged_OnlyChallengedMayDecline(t *testing.T) {
	o, store, _, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if _, err := o.CreateChallenge(context.Background(), "c1", "alice", "bob", "chess", nil); err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}

	if err := o.DeclineByChallenged(context.Background(), "c1", "alice"); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden when challenger tries to decline, got %v", err)
	}

	if err := o.DeclineByChallenged(context.Background(), "c1", "bob"); err != nil {
		t.Fatalf("DeclineByChallenged: %v", err)
	}
	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateDeclined {
		t.Errorf("expected DECLINED, got %s", c.State)
	}
}

func TestMarkExpired_SweepsPastDeadline(t *testing.T) {
	o, store, _, _, _, _ := newTestOrchestrator(t)
	seedUsers(t, store, "alice", "bob")
	if err := store.CreateChallenge(context.Background(), &recordstore.Challenge{
		ChallengeID:  "c1",
		ChallengerID: "alice",
		ChallengedID: "bob",
		GameType:     "chess",
		State:        recordstore.StatePending,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}

	count, err := o.MarkExpired(context.Background())
	if err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired challenge, got %d", count)
	}
	c, _ := store.GetChallenge(context.Background(), "c1")
	if c.State != recordstore.StateExpired {
		t.Errorf("expected EXPIRED, got %s", c.State)
	}
}
