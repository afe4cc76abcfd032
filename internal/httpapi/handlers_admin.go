package httpapi

import (
	"net/http"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/timeline"
)

// handleAdminStats reports the aggregate challenge counts by state and
// this process's live connection count, for an operator
// dashboard rather than any per-user client.
func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.CountChallengesByState(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "count challenges by state", err))
		return
	}
	byState := make(map[string]int, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenges_by_state": byState,
		"hub_connections":     a.hub.ClientCount(),
	})
}

type incidentCaptureRequest struct {
	ChallengeID string                 `json:"challenge_id"`
	Summary     string                 `json:"summary"`
	Detail      map[string]interface{} `json:"detail"`
}

// handleIncidentCapture records an operator-supplied timeline entry
// against a challenge, for manually annotating an incident under
// investigation without a dedicated incident-tracking store.
func (a *API) handleIncidentCapture(w http.ResponseWriter, r *http.Request) {
	if a.timeline == nil {
		writeError(w, apperr.New(apperr.Internal, "timeline recording is not configured"))
		return
	}
	var req incidentCaptureRequest
	if err := decodeJSON(r, &req); err != nil || req.ChallengeID == "" || req.Summary == "" {
		writeError(w, apperr.New(apperr.Validation, "challenge_id and summary are required"))
		return
	}
	detail := req.Detail
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detail["summary"] = req.Summary

	event := timeline.Event{ChallengeID: req.ChallengeID, Kind: "INCIDENT_CAPTURED", Detail: detail}
	if err := a.timeline.Record(r.Context(), event); err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "record incident", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// handleChallengeTimeline returns the recorded audit trail for a single
// challenge, for debugging a disputed or stuck handshake.
func (a *API) handleChallengeTimeline(w http.ResponseWriter, r *http.Request, challengeID string) {
	if a.timeline == nil {
		writeJSON(w, http.StatusOK, []timeline.Event{})
		return
	}
	events, err := a.timeline.ForChallenge(r.Context(), challengeID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "read timeline", err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
