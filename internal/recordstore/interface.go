// Package recordstore is the durable repository of users, challenges,
// and sessions: the only place the Challenge state column is written,
// through the challenge package's transition guard in
// UpdateChallengeState, or by MarkExpired's PENDING-only row guard.
package recordstore

import (
	"context"
	"time"
)

// Store is the typed repository over users, challenges, and sessions.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUserByContact(ctx context.Context, contactID string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	AddPushToken(ctx context.Context, userID, token string) error
	RemovePushToken(ctx context.Context, userID, token string) error

	// Challenges
	CreateChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, challengeID string) (*Challenge, error)
	ListPendingForUser(ctx context.Context, userID string) ([]*Challenge, error)
	// UpdateChallengeState performs the guarded transition from ->
	// newState, enforced through the challenge package's transition
	// table. It returns ErrStateConflict if the current state does not
	// match expected or the edge is not allowed, and ErrNotFound if the
	// challenge does not exist.
	UpdateChallengeState(ctx context.Context, challengeID string, expected, newState ChallengeState) error
	IncrementAttempt(ctx context.Context, challengeID string) (int, error)
	// MarkExpired transitions every PENDING challenge whose expiresAt
	// has passed into EXPIRED, and returns the count affected. It is a
	// single bounded statement guarded at the row level so a challenge
	// that just moved to NOTIFYING is excluded by the WHERE clause.
	MarkExpired(ctx context.Context, now time.Time) (int, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	GetSessionByChallenge(ctx context.Context, challengeID string) (*Session, error)
	EndSession(ctx context.Context, sessionID string, terminal SessionState, metadata map[string]interface{}) error
	ListActiveForUser(ctx context.Context, userID string) ([]*Session, error)

	// CountChallengesByState supports the admin/dashboard aggregate
	// endpoint.
	CountChallengesByState(ctx context.Context) (map[ChallengeState]int, error)
}
