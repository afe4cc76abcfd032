package recordstore

import (
	"context"
	"sync"
	"time"

	"github.com/handshake/coordinator/internal/challenge"
)

// MemoryStore is an in-process, map-plus-mutex implementation of Store.
// It backs unit tests that don't need a live Postgres instance and
// exercises exactly the same guarded-transition logic PostgresStore
// does.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]*User
	byContact  map[string]string // contactID -> userID
	challenges map[string]*Challenge
	sessions   map[string]*Session
	byCh       map[string]string // challengeID -> sessionID
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*User),
		byContact:  make(map[string]string),
		challenges: make(map[string]*Challenge),
		sessions:   make(map[string]*Session),
		byCh:       make(map[string]string),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byContact[u.ContactID]; exists {
		return ErrDuplicate
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.UserID] = &cp
	m.byContact[u.ContactID] = u.UserID
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByContact(ctx context.Context, contactID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byContact[contactID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) AddPushToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	for _, t := range u.PushTokens {
		if t == token {
			return nil // already present: idempotent
		}
	}
	u.PushTokens = append(u.PushTokens, token)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) RemovePushToken(ctx context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	filtered := u.PushTokens[:0]
	for _, t := range u.PushTokens {
		if t != token {
			filtered = append(filtered, t)
		}
	}
	u.PushTokens = filtered
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.challenges[c.ChallengeID] = &cp
	return nil
}

func (m *MemoryStore) GetChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListPendingForUser(ctx context.Context, userID string) ([]*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Challenge
	for _, c := range m.challenges {
		if c.ChallengedID == userID && c.State == StatePending {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateChallengeState(ctx context.Context, challengeID string, expected, newState ChallengeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok {
		return ErrNotFound
	}
	if c.State != expected {
		return ErrStateConflict
	}
	if err := challenge.Validate(expected, newState); err != nil {
		return ErrStateConflict
	}
	c.State = newState
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IncrementAttempt(ctx context.Context, challengeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[challengeID]
	if !ok {
		return 0, ErrNotFound
	}
	c.Attempts++
	c.LastAttemptAt = time.Now()
	return c.Attempts, nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.challenges {
		if c.State == StatePending && c.ExpiresAt.Before(now) {
			c.State = StateExpired
			c.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, c := range m.challenges {
		if c.State.Terminal() && c.UpdatedAt.Before(cutoff) {
			delete(m.challenges, id)
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.StartedAt = time.Now()
	cp := *s
	m.sessions[s.SessionID] = &cp
	m.byCh[s.ChallengeID] = s.SessionID
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetSessionByChallenge(ctx context.Context, challengeID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCh[challengeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *MemoryStore) EndSession(ctx context.Context, sessionID string, terminal SessionState, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State != SessionActive {
		return ErrStateConflict
	}
	now := time.Now()
	s.State = terminal
	s.EndedAt = &now
	if metadata != nil {
		s.Metadata = metadata
	}
	return nil
}

func (m *MemoryStore) ListActiveForUser(ctx context.Context, userID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.State == SessionActive && s.HasPlayer(userID) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountChallengesByState(ctx context.Context) (map[ChallengeState]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[ChallengeState]int)
	for _, c := range m.challenges {
		counts[c.State]++
	}
	return counts, nil
}
