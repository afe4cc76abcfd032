package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/handshake/coordinator/internal/presence"
)

type fakeStore struct {
	mu     sync.Mutex
	sets   map[string]map[string]bool
	hashes map[string]map[string]string
	hashExists map[string]bool
	strings map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sets:       make(map[string]map[string]bool),
		hashes:     make(map[string]map[string]string),
		hashExists: make(map[string]bool),
		strings:    make(map[string]string),
	}
}

func (f *fakeStore) SetAdd(ctx context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	f.sets[key][member] = true
	return nil
}

func (f *fakeStore) SetRemove(ctx context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sets[key], member)
	return nil
}

func (f *fakeStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) SetCount(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sets[key])), nil
}

func (f *fakeStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strings[key], nil
}

func (f *fakeStore) KeyExists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashExists[key], nil
}

func (f *fakeStore) KeyExpire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeStore) HashPut(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]string)
	}
	for k, v := range fields {
		f.hashes[key][k] = v
	}
	f.hashExists[key] = true
	return nil
}

func (f *fakeStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func TestSetOnlineOffline_MultiDevice(t *testing.T) {
	reg := presence.New(newFakeStore(), 60*time.Second)
	ctx := context.Background()
	const user = "u-a"

	if err := reg.SetOnline(ctx, user, "conn-1"); err != nil {
		t.Fatalf("SetOnline conn-1: %v", err)
	}
	if err := reg.SetOnline(ctx, user, "conn-2"); err != nil {
		t.Fatalf("SetOnline conn-2: %v", err)
	}

	online, err := reg.IsOnline(ctx, user)
	if err != nil || !online {
		t.Fatalf("expected online after two connections, got %v err=%v", online, err)
	}
	conns, err := reg.Connections(ctx, user)
	if err != nil || len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %v err=%v", conns, err)
	}

	if err := reg.SetOffline(ctx, user, "conn-1"); err != nil {
		t.Fatalf("SetOffline conn-1: %v", err)
	}
	online, err = reg.IsOnline(ctx, user)
	if err != nil || !online {
		t.Fatalf("expected still online with one connection left, got %v err=%v", online, err)
	}

	if err := reg.SetOffline(ctx, user, "conn-2"); err != nil {
		t.Fatalf("SetOffline conn-2: %v", err)
	}
	online, err = reg.IsOnline(ctx, user)
	if err != nil || online {
		t.Fatalf("expected offline after last disconnect, got %v err=%v", online, err)
	}
}

func TestHeartbeat_NeverResurrectsOfflineUser(t *testing.T) {
	reg := presence.New(newFakeStore(), 60*time.Second)
	ctx := context.Background()
	const user = "u-ghost"

	if err := reg.Heartbeat(ctx, user); err != nil {
		t.Fatalf("Heartbeat on unknown user: %v", err)
	}

	snap, err := reg.GetSnapshot(ctx, user)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.IsOnline {
		t.Fatalf("heartbeat must not create a presence record for an offline user, got %+v", snap)
	}
}

func TestHeartbeat_RefreshesExistingHash(t *testing.T) {
	reg := presence.New(newFakeStore(), 60*time.Second)
	ctx := context.Background()
	const user = "u-b"

	if err := reg.SetOnline(ctx, user, "conn-1"); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	if err := reg.Heartbeat(ctx, user); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	snap, err := reg.GetSnapshot(ctx, user)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if !snap.IsOnline {
		t.Fatalf("expected presence hash to survive the heartbeat refresh, got %+v", snap)
	}
}

func TestUserForConnection(t *testing.T) {
	reg := presence.New(newFakeStore(), 60*time.Second)
	ctx := context.Background()

	if err := reg.SetOnline(ctx, "u-c", "conn-9"); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	user, err := reg.UserForConnection(ctx, "conn-9")
	if err != nil {
		t.Fatalf("UserForConnection: %v", err)
	}
	if user != "u-c" {
		t.Fatalf("expected u-c, got %q", user)
	}
}
