// Package httpapi is the coordinator's HTTP surface: request decoding,
// response encoding, and the cross-cutting middleware (auth, CORS,
// idempotency, rate limiting) wrapped around the orchestrator and its
// collaborators.
package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/handshake/coordinator/internal/auth"
	"github.com/handshake/coordinator/internal/hub"
	"github.com/handshake/coordinator/internal/idempotency"
	"github.com/handshake/coordinator/internal/orchestrator"
	"github.com/handshake/coordinator/internal/presence"
	"github.com/handshake/coordinator/internal/recordstore"
	"github.com/handshake/coordinator/internal/timeline"
)

// API holds every collaborator an HTTP handler might need.
type API struct {
	store    recordstore.Store
	orch     *orchestrator.Orchestrator
	issuer   *auth.Issuer
	presence *presence.Registry
	hub      *hub.Hub
	timeline timeline.Recorder

	idem *idempotency.Store

	challengeLimiter *rate.Limiter
	heartbeatLimiter *rate.Limiter
}

// New builds an API. idem and timelineRecorder may be nil.
func New(
	store recordstore.Store,
	orch *orchestrator.Orchestrator,
	issuer *auth.Issuer,
	presenceRegistry *presence.Registry,
	connHub *hub.Hub,
	timelineRecorder timeline.Recorder,
	idem *idempotency.Store,
) *API {
	return &API{
		store:    store,
		orch:     orch,
		issuer:   issuer,
		presence: presenceRegistry,
		hub:      connHub,
		timeline: timelineRecorder,
		idem:     idem,
		// Allow 20 challenge creations/sec per process, burst 40: a
		// single misbehaving client retrying in a tight loop must not
		// starve the push vendor or the scheduler's timer map.
		challengeLimiter: rate.NewLimiter(rate.Limit(20), 40),
		// Allow 200 heartbeats/sec, burst 400: the dominant traffic
		// shape is short, frequent presence refreshes.
		heartbeatLimiter: rate.NewLimiter(rate.Limit(200), 400),
	}
}

const hashIterations = 100_000

// hashSecret derives a salted digest for a user's login secret. There is
// no password-hashing library anywhere in the retrieval pack, so this
// stays on crypto/sha256 with an explicit work-factor loop rather than
// pulling in a new dependency for a single call site.
func hashSecret(secret string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("httpapi: generate salt: %w", err)
	}
	return fmt.Sprintf("%s$%s", hex.EncodeToString(salt), hex.EncodeToString(deriveKey(secret, salt))), nil
}

func verifySecret(secret, stored string) bool {
	parts := splitOnce(stored, '$')
	if parts == nil {
		return false
	}
	saltHex, digestHex := parts[0], parts[1]
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(digestHex)
	if err != nil {
		return false
	}
	got := deriveKey(secret, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func deriveKey(secret string, salt []byte) []byte {
	h := sha256.Sum256(append(salt, []byte(secret)...))
	for i := 0; i < hashIterations; i++ {
		h = sha256.Sum256(h[:])
	}
	return h[:]
}

func splitOnce(s string, sep byte) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return []string{s[:i], s[i+1:]}
		}
	}
	return nil
}
