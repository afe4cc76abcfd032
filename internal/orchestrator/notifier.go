package orchestrator

import (
	"context"
	"log"

	"github.com/handshake/coordinator/internal/push"
	"github.com/handshake/coordinator/internal/recordstore"
)

// liveHub is the subset of hub.Hub the notifier needs.
type liveHub interface {
	SendToUser(ctx context.Context, userID string, payload interface{})
	SendToSession(ctx context.Context, sessionID string, userIDs []string, payload interface{})
}

// pushDispatcher is the subset of push.Dispatcher the notifier needs.
type pushDispatcher interface {
	SendToAll(ctx context.Context, userID string, tokens []string, n push.Notification) int
}

// userTokenLookup is the subset of recordstore.Store the notifier needs
// to resolve a user's registered push tokens.
type userTokenLookup interface {
	GetUser(ctx context.Context, userID string) (*recordstore.User, error)
}

// LiveNotifier composes the connection hub and the push dispatcher into
// the single Notifier capability the orchestrator depends on.
type LiveNotifier struct {
	hub   liveHub
	push  pushDispatcher
	users userTokenLookup
}

// NewLiveNotifier builds a LiveNotifier. push may be nil, in which case
// PushToUser always reports false without attempting delivery.
func NewLiveNotifier(hub liveHub, dispatcher pushDispatcher, users userTokenLookup) *LiveNotifier {
	return &LiveNotifier{hub: hub, push: dispatcher, users: users}
}

func (n *LiveNotifier) NotifyUser(ctx context.Context, userID, event string, payload map[string]interface{}) {
	n.hub.SendToUser(ctx, userID, envelope(event, payload))
}

func (n *LiveNotifier) NotifySession(ctx context.Context, sessionID string, userIDs []string, event string, payload map[string]interface{}) {
	n.hub.SendToSession(ctx, sessionID, userIDs, envelope(event, payload))
}

func (n *LiveNotifier) PushToUser(ctx context.Context, userID string, title, body string, data map[string]string) bool {
	if n.push == nil {
		return false
	}
	u, err := n.users.GetUser(ctx, userID)
	if err != nil || len(u.PushTokens) == 0 {
		return false
	}
	delivered := n.push.SendToAll(ctx, userID, u.PushTokens, push.Notification{
		Title: title,
		Body:  body,
		Data:  data,
	})
	if delivered == 0 {
		log.Printf("orchestrator: push delivery failed for user %s", userID)
	}
	return delivered > 0
}

func envelope(event string, payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["event"] = event
	return out
}
