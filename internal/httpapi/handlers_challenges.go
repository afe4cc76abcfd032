package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/recordstore"
)

type createChallengeRequest struct {
	ChallengedID string                 `json:"challenged_id"`
	GameType     string                 `json:"game_type"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func (a *API) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	if !a.challengeLimiter.Allow() {
		writeRateLimitError(w)
		return
	}
	challengerID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	var req createChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}
	if req.ChallengedID == "" || req.GameType == "" {
		writeError(w, apperr.New(apperr.Validation, "challenged_id and game_type are required"))
		return
	}

	c, err := a.orch.CreateChallenge(r.Context(), uuid.NewString(), challengerID, req.ChallengedID, req.GameType, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleGetChallenge(w http.ResponseWriter, r *http.Request, challengeID string) {
	c, err := a.store.GetChallenge(r.Context(), challengeID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "challenge not found", err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handlePendingForMe(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	list, err := a.store.ListPendingForUser(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list pending challenges", err))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleAcceptChallenge(w http.ResponseWriter, r *http.Request, challengeID string) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	state, notified, err := a.orch.InitiateHandshake(r.Context(), challengeID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":          state,
		"playerNotified": notified,
	})
}

func (a *API) handleDeclineChallenge(w http.ResponseWriter, r *http.Request, challengeID string) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	if err := a.orch.DeclineByChallenged(r.Context(), challengeID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(recordstore.StateDeclined)})
}

type respondRequest struct {
	Response recordstore.ResponseValue `json:"response"`
}

func (a *API) handleRespondToChallenge(w http.ResponseWriter, r *http.Request, challengeID string) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}
	action, sessionID, err := a.orch.HandleWakeUpResponse(r.Context(), challengeID, userID, req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": action, "sessionId": sessionID})
}
