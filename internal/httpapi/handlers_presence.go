package httpapi

import (
	"net/http"

	"github.com/handshake/coordinator/internal/apperr"
)

type registerDeviceRequest struct {
	PushToken string `json:"push_token"`
}

func (a *API) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil || req.PushToken == "" {
		writeError(w, apperr.New(apperr.Validation, "push_token is required"))
		return
	}
	if err := a.store.AddPushToken(r.Context(), userID, req.PushToken); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "add push token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil || req.PushToken == "" {
		writeError(w, apperr.New(apperr.Validation, "push_token is required"))
		return
	}
	if err := a.store.RemovePushToken(r.Context(), userID, req.PushToken); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "remove push token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !a.heartbeatLimiter.Allow() {
		writeRateLimitError(w)
		return
	}
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	if err := a.presence.Heartbeat(r.Context(), userID); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "heartbeat", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (a *API) handleGetPresence(w http.ResponseWriter, r *http.Request, userID string) {
	snap, err := a.presence.GetSnapshot(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "get presence", err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
