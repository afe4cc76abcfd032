// Package hub is the live WebSocket connection registry: per-connection
// bind to a user and optional session, and delivery addressed to a
// user or a session's two participants. A single goroutine owns the
// client map; every mutation goes through register/unregister/bind
// channels so readers never race a writer.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/handshake/coordinator/internal/metrics"
)

const maxConnections = 5000

// clusterBus is the pub/sub surface the hub needs for cross-process
// fan-out (RedisBus adapts sharedstore.Store to it): a live channel's participants may be
// connected to a different worker process, so a local-only broadcast
// would silently drop half of a session's deliveries.
type clusterBus interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is the narrow read side of a pub/sub subscription.
type Subscription interface {
	Channel() <-chan string
	Close() error
}

const fanoutChannel = "hub:fanout"

// fanoutEnvelope is the payload published on the cluster bus so every
// worker process can deliver to whichever local connections match.
type fanoutEnvelope struct {
	UserIDs []string        `json:"user_ids"`
	Payload json.RawMessage `json:"payload"`
}

type registration struct {
	conn      *websocket.Conn
	userID    string
	sessionID string
}

type bind struct {
	conn      *websocket.Conn
	sessionID string
}

// Hub is the connection registry.
type Hub struct {
	mu       sync.RWMutex
	byConn   map[*websocket.Conn]registration
	byUser   map[string]map[*websocket.Conn]bool
	bySess   map[string]map[*websocket.Conn]bool

	register   chan registration
	unregister chan *websocket.Conn
	bindCh     chan bind

	bus clusterBus
}

// New builds a Hub. bus may be nil, in which case delivery is
// single-process only (useful for tests and single-instance deploys).
func New(bus clusterBus) *Hub {
	return &Hub{
		byConn:     make(map[*websocket.Conn]registration),
		byUser:     make(map[string]map[*websocket.Conn]bool),
		bySess:     make(map[string]map[*websocket.Conn]bool),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		bindCh:     make(chan bind),
		bus:        bus,
	}
}

// Run owns the client map for the lifetime of ctx.
func (h *Hub) Run(ctx context.Context) {
	var sub Subscription
	var subCh <-chan string
	if h.bus != nil {
		s, err := h.bus.Subscribe(ctx, fanoutChannel)
		if err != nil {
			log.Printf("hub: fanout subscribe failed, running single-process: %v", err)
		} else {
			sub = s
			subCh = s.Channel()
		}
	}
	if sub != nil {
		defer sub.Close()
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			if len(h.byConn) >= maxConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("hub: connection rejected, at capacity (%d)", maxConnections)
				continue
			}
			h.byConn[reg.conn] = reg
			h.addTo(h.byUser, reg.userID, reg.conn)
			if reg.sessionID != "" {
				h.addTo(h.bySess, reg.sessionID, reg.conn)
			}
			h.mu.Unlock()
			metrics.HubConnections.Set(float64(h.ClientCount()))

		case conn := <-h.unregister:
			h.mu.Lock()
			if reg, ok := h.byConn[conn]; ok {
				delete(h.byConn, conn)
				h.removeFrom(h.byUser, reg.userID, conn)
				if reg.sessionID != "" {
					h.removeFrom(h.bySess, reg.sessionID, conn)
				}
				conn.Close()
			}
			h.mu.Unlock()
			metrics.HubConnections.Set(float64(h.ClientCount()))

		case b := <-h.bindCh:
			h.mu.Lock()
			if reg, ok := h.byConn[b.conn]; ok {
				if reg.sessionID != "" {
					h.removeFrom(h.bySess, reg.sessionID, b.conn)
				}
				reg.sessionID = b.sessionID
				h.byConn[b.conn] = reg
				h.addTo(h.bySess, b.sessionID, b.conn)
			}
			h.mu.Unlock()

		case raw, ok := <-subCh:
			if !ok {
				subCh = nil
				continue
			}
			h.deliverFanout(raw)
		}
	}
}

func (h *Hub) addTo(set map[string]map[*websocket.Conn]bool, key string, conn *websocket.Conn) {
	if key == "" {
		return
	}
	if set[key] == nil {
		set[key] = make(map[*websocket.Conn]bool)
	}
	set[key][conn] = true
}

func (h *Hub) removeFrom(set map[string]map[*websocket.Conn]bool, key string, conn *websocket.Conn) {
	if conns, ok := set[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(set, key)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.byConn {
		conn.Close()
	}
	h.byConn = make(map[*websocket.Conn]registration)
	h.byUser = make(map[string]map[*websocket.Conn]bool)
	h.bySess = make(map[string]map[*websocket.Conn]bool)
}

// Register binds a new connection to userID, optionally joining a
// session's delivery group immediately.
func (h *Hub) Register(conn *websocket.Conn, userID, sessionID string) {
	h.register <- registration{conn: conn, userID: userID, sessionID: sessionID}
}

// Unregister removes and closes conn.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// JoinSession moves conn into sessionID's delivery group, e.g. once a
// handshake resolves into an active session after the connection was
// already registered under presence alone.
func (h *Hub) JoinSession(conn *websocket.Conn, sessionID string) {
	h.bindCh <- bind{conn: conn, sessionID: sessionID}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byConn)
}

// SendToUser delivers payload to every connection registered for
// userID, cluster-wide if a bus is configured (otherwise local-only).
func (h *Hub) SendToUser(ctx context.Context, userID string, payload interface{}) {
	h.deliver(ctx, []string{userID}, payload)
}

// SendToSession delivers payload to every connection belonging to any
// of userIDs (a session's participants), cluster-wide if a bus is
// configured.
func (h *Hub) SendToSession(ctx context.Context, sessionID string, userIDs []string, payload interface{}) {
	h.deliver(ctx, userIDs, payload)
}

// deliver writes locally and, when a cluster bus is present, publishes
// so sibling worker processes deliver to their own local connections.
// It never delivers locally twice: with a bus configured, delivery
// happens only through the subscription loop in Run, so a sender on
// the same process that owns the target connection sees exactly one
// write, not a direct write plus a looped-back fanout echo.
func (h *Hub) deliver(ctx context.Context, userIDs []string, payload interface{}) {
	if h.bus == nil {
		h.deliverLocal(userIDs, payload)
		return
	}
	h.publishFanout(ctx, userIDs, payload)
}

func (h *Hub) deliverLocal(userIDs []string, payload interface{}) {
	h.mu.RLock()
	seen := make(map[*websocket.Conn]bool)
	var targets []*websocket.Conn
	for _, u := range userIDs {
		for c := range h.byUser[u] {
			if !seen[c] {
				seen[c] = true
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()
	h.writeAll(targets, payload)
}

func (h *Hub) writeAll(targets []*websocket.Conn, payload interface{}) {
	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(payload); err != nil {
			log.Printf("hub: write error: %v", err)
			go h.Unregister(conn)
		}
	}
}

func (h *Hub) publishFanout(ctx context.Context, userIDs []string, payload interface{}) {
	if h.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hub: fanout marshal failed: %v", err)
		return
	}
	env, err := json.Marshal(fanoutEnvelope{UserIDs: userIDs, Payload: raw})
	if err != nil {
		log.Printf("hub: fanout envelope marshal failed: %v", err)
		return
	}
	if err := h.bus.Publish(ctx, fanoutChannel, string(env)); err != nil {
		log.Printf("hub: fanout publish failed: %v", err)
	}
}

func (h *Hub) deliverFanout(raw string) {
	var env fanoutEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Printf("hub: fanout envelope unmarshal failed: %v", err)
		return
	}
	var payload interface{}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("hub: fanout payload unmarshal failed: %v", err)
		return
	}
	h.deliverLocal(env.UserIDs, payload)
}
