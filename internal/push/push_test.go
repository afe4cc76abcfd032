package push_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/handshake/coordinator/internal/push"
)

type fakeTokenStore struct {
	mu      sync.Mutex
	removed []string
}

func (s *fakeTokenStore) RemovePushToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, userID+"/"+token)
	return nil
}

func TestSend_DeliveredOnAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	store := &fakeTokenStore{}
	d := push.New(server.URL, "vendor-token", store)

	err := d.Send(context.Background(), "alice", push.Notification{Token: "tok-1", Title: "hi", Body: "there"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSend_PrunesTokenOnGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	store := &fakeTokenStore{}
	d := push.New(server.URL, "", store)

	err := d.Send(context.Background(), "alice", push.Notification{Token: "stale-tok"})
	if err == nil {
		t.Fatal("expected Send to report a delivery failure on 410 Gone")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.removed) != 1 || store.removed[0] != "alice/stale-tok" {
		t.Errorf("expected stale-tok to be pruned, got %v", store.removed)
	}
}

func TestSend_ReturnsErrNotConfiguredWhenNoVendorURL(t *testing.T) {
	d := push.New("", "", &fakeTokenStore{})
	if err := d.Send(context.Background(), "alice", push.Notification{Token: "tok"}); err != push.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendToAll_CountsSuccessfulDeliveries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := push.New(server.URL, "", &fakeTokenStore{})
	delivered := d.SendToAll(context.Background(), "alice", []string{"tok-1", "tok-2", "tok-3"}, push.Notification{Title: "hi"})
	if delivered != 3 {
		t.Errorf("expected 3 successful deliveries, got %d", delivered)
	}
}
