// Package presence implements the cluster-wide, per-user live-connection
// registry. It is derived state only — never authoritative for the
// challenge state machine — and lives entirely in the shared store so
// every worker process sees the same view, keyed across three
// namespaces: presence, user_conn, and conn.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/handshake/coordinator/internal/metrics"
)

// Snapshot is the derived, advisory view of a user's presence.
type Snapshot struct {
	IsOnline        bool
	LastSeen        time.Time
	ConnectionCount int
}

// sharedStore is the subset of sharedstore.Store the registry needs.
// Declared narrowly here (rather than importing the concrete type) so
// tests can exercise the online/offline derivation against a
// hand-rolled fake instead of a live Redis connection.
type sharedStore interface {
	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCount(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	KeyExists(ctx context.Context, key string) (bool, error)
	KeyExpire(ctx context.Context, key string, ttl time.Duration) error
	HashPut(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Registry implements the presence operations.
type Registry struct {
	store sharedStore
	ttl   time.Duration
}

// New builds a Registry backed by store, refreshing hashes with ttl
// (PresenceTTL, default 60s).
func New(store sharedStore, ttl time.Duration) *Registry {
	return &Registry{store: store, ttl: ttl}
}

func presenceKey(user string) string  { return "presence:" + user }
func userConnKey(user string) string  { return "user_conn:" + user }
func connKey(connID string) string    { return "conn:" + connID }

// SetOnline registers connID as live for user: adds it to the user's
// connection set, maps conn -> user with the presence TTL, and rewrites
// the presence hash from the resulting set size.
func (r *Registry) SetOnline(ctx context.Context, user, connID string) error {
	if err := r.store.SetAdd(ctx, userConnKey(user), connID); err != nil {
		return fmt.Errorf("presence: set online add %s/%s: %w", user, connID, err)
	}
	if err := r.store.Set(ctx, connKey(connID), user, r.ttl); err != nil {
		return fmt.Errorf("presence: set online conn map %s: %w", connID, err)
	}
	count, err := r.store.SetCount(ctx, userConnKey(user))
	if err != nil {
		return fmt.Errorf("presence: set online count %s: %w", user, err)
	}
	if err := r.writeHash(ctx, user, true, count); err != nil {
		return err
	}
	if count == 1 {
		metrics.PresenceOnlineUsers.Inc()
	}
	return nil
}

// SetOffline removes connID from user's live set, deletes the conn->user
// mapping, and updates the presence hash — isOnline flips to false only
// once the set is empty.
func (r *Registry) SetOffline(ctx context.Context, user, connID string) error {
	wasOnline, err := r.IsOnline(ctx, user)
	if err != nil {
		return err
	}
	if err := r.store.SetRemove(ctx, userConnKey(user), connID); err != nil {
		return fmt.Errorf("presence: set offline remove %s/%s: %w", user, connID, err)
	}
	// Best-effort: the conn->user mapping has its own TTL and would
	// self-expire even if this delete silently no-ops on a missing key.
	_ = r.store.KeyExpire(ctx, connKey(connID), 0)

	count, err := r.store.SetCount(ctx, userConnKey(user))
	if err != nil {
		return fmt.Errorf("presence: set offline count %s: %w", user, err)
	}
	if err := r.writeHash(ctx, user, count > 0, count); err != nil {
		return err
	}
	if wasOnline && count == 0 {
		metrics.PresenceOnlineUsers.Dec()
	}
	return nil
}

// Heartbeat refreshes the TTL and lastSeen of an existing presence hash.
// It never creates a hash for a user with no registered connection —
// doing so would resurrect a user whose presence already expired after
// silent network loss.
func (r *Registry) Heartbeat(ctx context.Context, user string) error {
	exists, err := r.store.KeyExists(ctx, presenceKey(user))
	if err != nil {
		return fmt.Errorf("presence: heartbeat exists %s: %w", user, err)
	}
	if !exists {
		return nil
	}
	count, err := r.store.SetCount(ctx, userConnKey(user))
	if err != nil {
		return fmt.Errorf("presence: heartbeat count %s: %w", user, err)
	}
	return r.writeHash(ctx, user, count > 0, count)
}

// IsOnline reports whether user has at least one live connection.
func (r *Registry) IsOnline(ctx context.Context, user string) (bool, error) {
	count, err := r.store.SetCount(ctx, userConnKey(user))
	if err != nil {
		return false, fmt.Errorf("presence: is online %s: %w", user, err)
	}
	return count > 0, nil
}

// Connections returns the set of connection ids currently live for user.
func (r *Registry) Connections(ctx context.Context, user string) ([]string, error) {
	members, err := r.store.SetMembers(ctx, userConnKey(user))
	if err != nil {
		return nil, fmt.Errorf("presence: connections %s: %w", user, err)
	}
	return members, nil
}

// UserForConnection resolves a live connection id back to its bound user.
func (r *Registry) UserForConnection(ctx context.Context, connID string) (string, error) {
	user, err := r.store.Get(ctx, connKey(connID))
	if err != nil {
		return "", fmt.Errorf("presence: user for connection %s: %w", connID, err)
	}
	return user, nil
}

// GetSnapshot returns the derived {isOnline, lastSeen, count} view.
func (r *Registry) GetSnapshot(ctx context.Context, user string) (Snapshot, error) {
	fields, err := r.store.HashGetAll(ctx, presenceKey(user))
	if err != nil {
		return Snapshot{}, fmt.Errorf("presence: snapshot %s: %w", user, err)
	}
	if len(fields) == 0 {
		return Snapshot{}, nil
	}
	var snap Snapshot
	snap.IsOnline = fields["isOnline"] == "true"
	if ts, err := strconv.ParseInt(fields["lastSeen"], 10, 64); err == nil {
		snap.LastSeen = time.Unix(ts, 0)
	}
	if n, err := strconv.Atoi(fields["count"]); err == nil {
		snap.ConnectionCount = n
	}
	return snap, nil
}

func (r *Registry) writeHash(ctx context.Context, user string, isOnline bool, count int64) error {
	fields := map[string]string{
		"isOnline": strconv.FormatBool(isOnline),
		"lastSeen": strconv.FormatInt(time.Now().Unix(), 10),
		"count":    strconv.FormatInt(count, 10),
	}
	if err := r.store.HashPut(ctx, presenceKey(user), fields, r.ttl); err != nil {
		return fmt.Errorf("presence: write hash %s: %w", user, err)
	}
	return nil
}
