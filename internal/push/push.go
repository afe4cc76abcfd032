// Package push delivers wake-up notifications to a user's registered
// devices over a vendor HTTP push endpoint, and prunes tokens the
// vendor reports as no longer valid.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/handshake/coordinator/internal/metrics"
)

// TokenStore is the subset of recordstore.Store the dispatcher needs to
// prune stale tokens without depending on the whole repository.
type TokenStore interface {
	RemovePushToken(ctx context.Context, userID, token string) error
}

// Dispatcher delivers notification payloads to a vendor push endpoint.
type Dispatcher struct {
	vendorURL   string
	vendorToken string
	client      *http.Client
	store       TokenStore
}

// New builds a Dispatcher. If vendorURL is empty the dispatcher is
// inert: Send returns ErrNotConfigured without making any request, the
// same "absence disables delivery without error" stance the rest of
// the coordinator takes toward optional external dependencies.
func New(vendorURL, vendorToken string, store TokenStore) *Dispatcher {
	return &Dispatcher{
		vendorURL:   vendorURL,
		vendorToken: vendorToken,
		client:      &http.Client{Timeout: 5 * time.Second},
		store:       store,
	}
}

// ErrNotConfigured is returned by Send when no vendor endpoint is set.
var ErrNotConfigured = fmt.Errorf("push: no vendor configured")

// Notification is the payload delivered to a single device token.
type Notification struct {
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ChallengeID string            `json:"challenge_id"`
	Data        map[string]string `json:"data,omitempty"`
}

// Send delivers n to the vendor. A 410 Gone or 404 Not Found response
// means the vendor has invalidated the token; it is pruned from
// userID's registered tokens and the call still reports a delivery
// failure to the caller, not a panic or retry loop.
func (d *Dispatcher) Send(ctx context.Context, userID string, n Notification) error {
	if d.vendorURL == "" {
		return ErrNotConfigured
	}

	data, err := json.Marshal(n)
	if err != nil {
		metrics.PushDeliveries.WithLabelValues("marshal_error").Inc()
		return fmt.Errorf("push: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.vendorURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.vendorToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.vendorToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.PushDeliveries.WithLabelValues("transport_error").Inc()
		return fmt.Errorf("push: send to vendor: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		metrics.PushDeliveries.WithLabelValues("delivered").Inc()
		return nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		metrics.PushDeliveries.WithLabelValues("token_invalid").Inc()
		metrics.PushTokensPruned.Inc()
		if err := d.store.RemovePushToken(context.Background(), userID, n.Token); err != nil {
			log.Printf("push: failed to prune invalid token for %s: %v", userID, err)
		}
		return fmt.Errorf("push: token invalidated by vendor (status %d)", resp.StatusCode)
	default:
		metrics.PushDeliveries.WithLabelValues("vendor_error").Inc()
		return fmt.Errorf("push: vendor returned status %d", resp.StatusCode)
	}
}

// SendToAll delivers n to every token in tokens, continuing past
// individual failures and returning the count of successful deliveries.
func (d *Dispatcher) SendToAll(ctx context.Context, userID string, tokens []string, n Notification) int {
	delivered := 0
	for _, tok := range tokens {
		nn := n
		nn.Token = tok
		if err := d.Send(ctx, userID, nn); err != nil {
			log.Printf("push: delivery to %s/%s failed: %v", userID, tok, err)
			continue
		}
		delivered++
	}
	return delivered
}
