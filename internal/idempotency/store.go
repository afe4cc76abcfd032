// Package idempotency caches a handler's response under a caller-supplied
// key so a retried request (e.g. a mobile client retrying a challenge
// creation after a dropped response) replays the original result instead
// of creating a second challenge.
package idempotency

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Response is the cached shape of a completed handler's output.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
}

// Backend is the subset of sharedstore.Store the cache needs.
type Backend interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

const ttl = 24 * time.Hour

type entry struct {
	Resp      Response
	Timestamp time.Time
}

// Store caches responses in backend, falling back to an in-process map
// when backend is nil (single-instance deploys, tests).
type Store struct {
	backend Backend
	cache   sync.Map
}

// NewStore builds a Store. backend may be nil.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the cached response for key, if any.
func (s *Store) Get(ctx context.Context, key string) (Response, bool) {
	if s.backend != nil {
		val, err := s.backend.Get(ctx, key)
		if err != nil {
			log.Printf("idempotency: get %s failed: %v", key, err)
			return Response{}, false
		}
		if val == "" {
			return Response{}, false
		}
		var e entry
		if err := json.Unmarshal([]byte(val), &e); err != nil {
			return Response{}, false
		}
		return e.Resp, true
	}

	val, ok := s.cache.Load(key)
	if !ok {
		return Response{}, false
	}
	e := val.(entry)
	if time.Since(e.Timestamp) > ttl {
		s.cache.Delete(key)
		return Response{}, false
	}
	return e.Resp, true
}

// Set caches resp under key.
func (s *Store) Set(ctx context.Context, key string, resp Response) {
	e := entry{Resp: resp, Timestamp: time.Now()}

	if s.backend != nil {
		raw, err := json.Marshal(e)
		if err != nil {
			log.Printf("idempotency: marshal %s failed: %v", key, err)
			return
		}
		if err := s.backend.Set(ctx, key, string(raw), ttl); err != nil {
			log.Printf("idempotency: set %s failed: %v", key, err)
		}
		return
	}

	s.cache.Store(key, e)
}
