package httpapi

import (
	"net/http"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/recordstore"
)

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	s, err := a.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "session not found", err))
		return
	}
	if !s.HasPlayer(userID) {
		writeError(w, apperr.New(apperr.Forbidden, "not a participant in this session"))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleActiveSessionsForMe(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	list, err := a.store.ListActiveForUser(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list active sessions", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type endSessionRequest struct {
	Terminal recordstore.SessionState `json:"terminal"`
	Metadata map[string]interface{}   `json:"metadata"`
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	s, err := a.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "session not found", err))
		return
	}
	if !s.HasPlayer(userID) {
		writeError(w, apperr.New(apperr.Forbidden, "not a participant in this session"))
		return
	}

	var req endSessionRequest
	decodeJSON(r, &req)
	if !req.Terminal.Valid() {
		req.Terminal = recordstore.SessionCompleted
	}

	if err := a.store.EndSession(r.Context(), sessionID, req.Terminal, req.Metadata); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "end session", err))
		return
	}
	players := s.Players()
	a.hub.SendToSession(r.Context(), sessionID, players[:], map[string]interface{}{
		"event":     "session:ended",
		"sessionId": sessionID,
		"terminal":  req.Terminal,
	})
	writeJSON(w, http.StatusOK, map[string]string{"state": string(req.Terminal)})
}
