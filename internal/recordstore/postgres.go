package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/handshake/coordinator/internal/challenge"
)

// PostgresStore implements Store over a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore dials connString, tuning the pool for concurrent
// handshake traffic, and verifies it with a ping before returning.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool so a collaborator that
// needs its own Postgres-backed component (the timeline recorder) can
// share the same pool instead of opening a second one.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (user_id, display_name, contact_id, secret_hash, push_tokens, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`
	_, err := s.pool.Exec(ctx, query, u.UserID, u.DisplayName, u.ContactID, u.SecretHash, u.PushTokens, u.Active)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT user_id, display_name, contact_id, secret_hash, push_tokens, active, created_at, updated_at
		FROM users WHERE user_id = $1
	`
	var u User
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.UserID, &u.DisplayName, &u.ContactID, &u.SecretHash, &u.PushTokens, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByContact(ctx context.Context, contactID string) (*User, error) {
	query := `
		SELECT user_id, display_name, contact_id, secret_hash, push_tokens, active, created_at, updated_at
		FROM users WHERE contact_id = $1
	`
	var u User
	err := s.pool.QueryRow(ctx, query, contactID).Scan(
		&u.UserID, &u.DisplayName, &u.ContactID, &u.SecretHash, &u.PushTokens, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `SELECT user_id, display_name, contact_id, secret_hash, push_tokens, active, created_at, updated_at FROM users`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.DisplayName, &u.ContactID, &u.SecretHash, &u.PushTokens, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, nil
}

func (s *PostgresStore) AddPushToken(ctx context.Context, userID, token string) error {
	query := `
		UPDATE users SET push_tokens = array_append(push_tokens, $2), updated_at = NOW()
		WHERE user_id = $1 AND NOT ($2 = ANY(push_tokens))
	`
	tag, err := s.pool.Exec(ctx, query, userID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetUser(ctx, userID); err != nil {
			return err
		}
		return nil // token already present: idempotent
	}
	return nil
}

func (s *PostgresStore) RemovePushToken(ctx context.Context, userID, token string) error {
	query := `UPDATE users SET push_tokens = array_remove(push_tokens, $2), updated_at = NOW() WHERE user_id = $1`
	tag, err := s.pool.Exec(ctx, query, userID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Challenges ---

func (s *PostgresStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO challenges (challenge_id, challenger_id, challenged_id, game_type, state, expires_at, attempts, last_attempt_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err = s.pool.Exec(ctx, query, c.ChallengeID, c.ChallengerID, c.ChallengedID, c.GameType, c.State, c.ExpiresAt, c.Attempts, c.LastAttemptAt, meta)
	return err
}

func (s *PostgresStore) GetChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	query := `
		SELECT challenge_id, challenger_id, challenged_id, game_type, state, expires_at, attempts, last_attempt_at, metadata, created_at, updated_at
		FROM challenges WHERE challenge_id = $1
	`
	return s.scanChallenge(s.pool.QueryRow(ctx, query, challengeID))
}

func (s *PostgresStore) ListPendingForUser(ctx context.Context, userID string) ([]*Challenge, error) {
	query := `
		SELECT challenge_id, challenger_id, challenged_id, game_type, state, expires_at, attempts, last_attempt_at, metadata, created_at, updated_at
		FROM challenges WHERE challenged_id = $1 AND state = $2
	`
	rows, err := s.pool.Query(ctx, query, userID, StatePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Challenge
	for rows.Next() {
		c, err := scanChallengeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateChallengeState performs the row-guarded transition, mirroring
// the expected-version UPDATE style used for desired-state rows: the
// WHERE clause is the only writer of the state column, so a
// concurrent transition is caught as zero rows affected rather than a
// lost update.
func (s *PostgresStore) UpdateChallengeState(ctx context.Context, challengeID string, expected, newState ChallengeState) error {
	if err := challenge.Validate(expected, newState); err != nil {
		return ErrStateConflict
	}
	query := `UPDATE challenges SET state = $3, updated_at = NOW() WHERE challenge_id = $1 AND state = $2`
	tag, err := s.pool.Exec(ctx, query, challengeID, expected, newState)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetChallenge(ctx, challengeID); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

func (s *PostgresStore) IncrementAttempt(ctx context.Context, challengeID string) (int, error) {
	query := `
		UPDATE challenges SET attempts = attempts + 1, last_attempt_at = NOW(), updated_at = NOW()
		WHERE challenge_id = $1
		RETURNING attempts
	`
	var attempts int
	err := s.pool.QueryRow(ctx, query, challengeID).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return attempts, err
}

// MarkExpired is a single bounded statement: the WHERE clause excludes
// any challenge that has already moved off PENDING, so a racing
// NOTIFYING transition wins over this sweep rather than being clobbered
// by it.
func (s *PostgresStore) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE challenges SET state = $1, updated_at = $2 WHERE state = $3 AND expires_at < $2`
	tag, err := s.pool.Exec(ctx, query, StateExpired, now, StatePending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM challenges
		WHERE updated_at < $1 AND state IN ($2, $3, $4, $5)
	`
	tag, err := s.pool.Exec(ctx, query, cutoff, StateActive, StateDeclined, StateTimeout, StateExpired)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) scanChallenge(row pgx.Row) (*Challenge, error) {
	var c Challenge
	var meta []byte
	err := row.Scan(&c.ChallengeID, &c.ChallengerID, &c.ChallengedID, &c.GameType, &c.State,
		&c.ExpiresAt, &c.Attempts, &c.LastAttemptAt, &meta, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func scanChallengeRow(rows pgx.Rows) (*Challenge, error) {
	var c Challenge
	var meta []byte
	if err := rows.Scan(&c.ChallengeID, &c.ChallengerID, &c.ChallengedID, &c.GameType, &c.State,
		&c.ExpiresAt, &c.Attempts, &c.LastAttemptAt, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// --- Sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO sessions (session_id, challenge_id, player_a, player_b, state, started_at, metadata)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6)
	`
	_, err = s.pool.Exec(ctx, query, sess.SessionID, sess.ChallengeID, sess.PlayerA, sess.PlayerB, sess.State, meta)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT session_id, challenge_id, player_a, player_b, state, started_at, ended_at, metadata
		FROM sessions WHERE session_id = $1
	`
	return s.scanSession(s.pool.QueryRow(ctx, query, sessionID))
}

func (s *PostgresStore) GetSessionByChallenge(ctx context.Context, challengeID string) (*Session, error) {
	query := `
		SELECT session_id, challenge_id, player_a, player_b, state, started_at, ended_at, metadata
		FROM sessions WHERE challenge_id = $1
	`
	return s.scanSession(s.pool.QueryRow(ctx, query, challengeID))
}

func (s *PostgresStore) EndSession(ctx context.Context, sessionID string, terminal SessionState, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE sessions SET state = $2, ended_at = NOW(), metadata = COALESCE(NULLIF($3, 'null'::jsonb), metadata)
		WHERE session_id = $1 AND state = $4
	`
	tag, err := s.pool.Exec(ctx, query, sessionID, terminal, meta, SessionActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

func (s *PostgresStore) ListActiveForUser(ctx context.Context, userID string) ([]*Session, error) {
	query := `
		SELECT session_id, challenge_id, player_a, player_b, state, started_at, ended_at, metadata
		FROM sessions WHERE state = $1 AND (player_a = $2 OR player_b = $2)
	`
	rows, err := s.pool.Query(ctx, query, SessionActive, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var meta []byte
		if err := rows.Scan(&sess.SessionID, &sess.ChallengeID, &sess.PlayerA, &sess.PlayerB, &sess.State, &sess.StartedAt, &sess.EndedAt, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &sess)
	}
	return out, nil
}

func (s *PostgresStore) scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var meta []byte
	err := row.Scan(&sess.SessionID, &sess.ChallengeID, &sess.PlayerA, &sess.PlayerB, &sess.State, &sess.StartedAt, &sess.EndedAt, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

func (s *PostgresStore) CountChallengesByState(ctx context.Context) (map[ChallengeState]int, error) {
	query := `SELECT state, COUNT(*) FROM challenges GROUP BY state`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[ChallengeState]int)
	for rows.Next() {
		var state ChallengeState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[state] = count
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
