package httpapi

import "net/http"

// Router builds the coordinator's HTTP handler: every route wrapped in
// CORS, and every route but health/register/login wrapped in auth.
// POST /challenges, /challenges/{id}/accept and /challenges/{id}/respond
// additionally carry idempotency replay; decline and session end do not.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("POST /auth/login", a.handleLogin)

	mux.HandleFunc("GET /auth/profile", a.authMiddleware(a.handleProfile))
	mux.HandleFunc("GET /users", a.authMiddleware(a.handleListUsers))

	mux.HandleFunc("POST /challenges", a.authMiddleware(a.withIdempotency(a.handleCreateChallenge)))
	mux.HandleFunc("GET /challenges/me/pending", a.authMiddleware(a.handlePendingForMe))
	mux.HandleFunc("GET /challenges/{id}", a.authMiddleware(a.withPathParam(a.handleGetChallenge)))
	mux.HandleFunc("GET /challenges/{id}/timeline", a.authMiddleware(a.withPathParam(a.handleChallengeTimeline)))
	mux.HandleFunc("POST /challenges/{id}/accept", a.authMiddleware(a.withIdempotency(a.withPathParam(a.handleAcceptChallenge))))
	mux.HandleFunc("POST /challenges/{id}/decline", a.authMiddleware(a.withPathParam(a.handleDeclineChallenge)))
	mux.HandleFunc("POST /challenges/{id}/respond", a.authMiddleware(a.withIdempotency(a.withPathParam(a.handleRespondToChallenge))))

	mux.HandleFunc("POST /presence/register-device", a.authMiddleware(a.handleRegisterDevice))
	mux.HandleFunc("POST /presence/unregister-device", a.authMiddleware(a.handleUnregisterDevice))
	mux.HandleFunc("POST /presence/heartbeat", a.authMiddleware(a.handleHeartbeat))
	mux.HandleFunc("GET /presence/{userId}", a.authMiddleware(a.withUserIDParam(a.handleGetPresence)))

	mux.HandleFunc("GET /sessions/me/active", a.authMiddleware(a.handleActiveSessionsForMe))
	mux.HandleFunc("GET /sessions/{id}", a.authMiddleware(a.withPathParam(a.handleGetSession)))
	mux.HandleFunc("POST /sessions/{id}/end", a.authMiddleware(a.withPathParam(a.handleEndSession)))

	mux.HandleFunc("GET /live", a.authMiddleware(a.handleLiveChannel))

	mux.HandleFunc("GET /admin/stats", a.authMiddleware(a.handleAdminStats))
	mux.HandleFunc("POST /admin/incidents/capture", a.authMiddleware(a.handleIncidentCapture))

	return corsMiddleware(mux)
}

// withPathParam adapts a handler that takes the "id" path value as an
// explicit argument, so each handler stays independently testable
// without importing net/http's routing internals.
func (a *API) withPathParam(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r, r.PathValue("id"))
	}
}

func (a *API) withUserIDParam(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r, r.PathValue("userId"))
	}
}
