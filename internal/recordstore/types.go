package recordstore

import (
	"time"

	"github.com/handshake/coordinator/internal/challenge"
)

// ChallengeState is an alias for the challenge package's transition-table
// state type: recordstore only persists the column, it never owns what
// values are legal or which edges between them exist.
type ChallengeState = challenge.ChallengeState

const (
	StatePending         = challenge.StatePending
	StateNotifying       = challenge.StateNotifying
	StateWaitingResponse = challenge.StateWaitingResponse
	StateActive          = challenge.StateActive
	StateDeclined        = challenge.StateDeclined
	StateTimeout         = challenge.StateTimeout
	StateExpired         = challenge.StateExpired
)

// ResponseValue is the closed set of values a challenger may send to
// HandleWakeUpResponse. Any other string is a Validation error at the
// boundary, never propagated as an open string.
type ResponseValue string

const (
	ResponseAccept  ResponseValue = "ACCEPT"
	ResponseDecline ResponseValue = "DECLINE"
)

func (r ResponseValue) Valid() bool {
	return r == ResponseAccept || r == ResponseDecline
}

// SessionState is the closed set of states a Session can be in.
type SessionState string

const (
	SessionActive    SessionState = "ACTIVE"
	SessionCompleted SessionState = "COMPLETED"
	SessionAbandoned SessionState = "ABANDONED"
)

func (s SessionState) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionAbandoned:
		return true
	default:
		return false
	}
}

// User is the account entity. Its lifecycle (creation,
// secret verification) belongs to the external identity collaborator;
// this store only persists it and mutates the push-token list.
type User struct {
	UserID       string    `json:"user_id" db:"user_id"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	ContactID    string    `json:"contact_id" db:"contact_id"`
	SecretHash   string    `json:"-" db:"secret_hash"`
	PushTokens   []string  `json:"push_tokens" db:"push_tokens"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Challenge is the wake-up-handshake offer entity.
type Challenge struct {
	ChallengeID   string                 `json:"challenge_id" db:"challenge_id"`
	ChallengerID  string                 `json:"challenger_id" db:"challenger_id"`
	ChallengedID  string                 `json:"challenged_id" db:"challenged_id"`
	GameType      string                 `json:"game_type" db:"game_type"`
	State         ChallengeState         `json:"state" db:"state"`
	ExpiresAt     time.Time              `json:"expires_at" db:"expires_at"`
	Attempts      int                    `json:"attempts" db:"attempts"`
	LastAttemptAt time.Time              `json:"last_attempt_at" db:"last_attempt_at"`
	Metadata      map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// Session is the post-handshake entity.
type Session struct {
	SessionID   string                 `json:"session_id" db:"session_id"`
	ChallengeID string                 `json:"challenge_id" db:"challenge_id"`
	PlayerA     string                 `json:"player_a" db:"player_a"`
	PlayerB     string                 `json:"player_b" db:"player_b"`
	State       SessionState           `json:"state" db:"state"`
	StartedAt   time.Time              `json:"started_at" db:"started_at"`
	EndedAt     *time.Time             `json:"ended_at" db:"ended_at"`
	Metadata    map[string]interface{} `json:"metadata" db:"metadata"`
}

// Players returns the session's two participants as a pair, in no
// particular order.
func (s Session) Players() [2]string {
	return [2]string{s.PlayerA, s.PlayerB}
}

// HasPlayer reports whether userID is one of the session's two players.
func (s Session) HasPlayer(userID string) bool {
	return s.PlayerA == userID || s.PlayerB == userID
}

// Opponent returns the other participant relative to userID.
func (s Session) Opponent(userID string) string {
	if s.PlayerA == userID {
		return s.PlayerB
	}
	return s.PlayerA
}
