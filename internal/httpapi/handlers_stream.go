package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/handshake/coordinator/internal/apperr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Mobile and web clients connect from arbitrary origins; the
		// bearer token, not the origin, is what authorizes the socket.
		return true
	},
}

// handleLiveChannel upgrades an authenticated request to a WebSocket and
// registers the connection in the hub under the caller's user id, so
// challenge and session events can be pushed without a client poll.
func (a *API) handleLiveChannel(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}

	connID := r.URL.Query().Get("conn_id")
	if connID == "" {
		connID = userID + ":" + time.Now().String()
	}
	a.hub.Register(conn, userID, "")
	if err := a.presence.SetOnline(r.Context(), userID, connID); err != nil {
		log.Printf("httpapi: presence set online failed for %s: %v", userID, err)
	}
	defer func() {
		a.hub.Unregister(conn)
		if err := a.presence.SetOffline(r.Context(), userID, connID); err != nil {
			log.Printf("httpapi: presence set offline failed for %s: %v", userID, err)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("httpapi: websocket error for %s: %v", userID, err)
			}
			break
		}
	}
}
