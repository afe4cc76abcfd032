// Package timeline is the audit trail of challenge lifecycle events:
// who did what, when, and with what detail. Grounded on the
// record/query shape of an in-memory reconciliation event log,
// generalized here to a durable, challenge-ID-addressed store instead
// of a process-lifetime buffer of reconcile stages.
package timeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one recorded occurrence in a challenge's lifecycle.
type Event struct {
	ChallengeID string                 `json:"challenge_id"`
	Kind        string                 `json:"event"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// Recorder persists and queries challenge timeline events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
	ForChallenge(ctx context.Context, challengeID string) ([]Event, error)
}

// MemoryRecorder is an in-process Recorder, used by tests and by
// deployments that don't need the audit trail to survive a restart.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryRecorder builds an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRecorder) ForChallenge(ctx context.Context, challengeID string) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.events {
		if e.ChallengeID == challengeID {
			out = append(out, e)
		}
	}
	return out, nil
}

// PostgresRecorder persists events to the challenge_timeline table.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder builds a PostgresRecorder over an existing pool.
func NewPostgresRecorder(pool *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{pool: pool}
}

func (r *PostgresRecorder) Record(ctx context.Context, e Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO challenge_timeline (challenge_id, event, detail, occurred_at) VALUES ($1, $2, $3, NOW())`,
		e.ChallengeID, e.Kind, detail,
	)
	return err
}

func (r *PostgresRecorder) ForChallenge(ctx context.Context, challengeID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT challenge_id, event, detail, occurred_at FROM challenge_timeline WHERE challenge_id = $1 ORDER BY occurred_at`,
		challengeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var detail []byte
		if err := rows.Scan(&e.ChallengeID, &e.Kind, &detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
