package httpapi

import (
	"net/http"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/recordstore"
)

type registerRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ContactID   string `json:"contact_id"`
	Secret      string `json:"secret"`
}

type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}
	if req.UserID == "" || req.ContactID == "" || req.Secret == "" {
		writeError(w, apperr.New(apperr.Validation, "user_id, contact_id and secret are required"))
		return
	}

	hash, err := hashSecret(req.Secret)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "hash secret", err))
		return
	}

	u := &recordstore.User{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		ContactID:   req.ContactID,
		SecretHash:  hash,
		Active:      true,
	}
	if err := a.store.CreateUser(r.Context(), u); err != nil {
		if err == recordstore.ErrDuplicate {
			writeError(w, apperr.New(apperr.Conflict, "contact_id already registered"))
			return
		}
		writeError(w, apperr.Wrap(apperr.Internal, "create user", err))
		return
	}

	token, err := a.issuer.Generate(u.UserID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "issue token", err))
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, UserID: u.UserID})
}

type loginRequest struct {
	ContactID string `json:"contact_id"`
	Secret    string `json:"secret"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "malformed request body"))
		return
	}

	u, err := a.store.GetUserByContact(r.Context(), req.ContactID)
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "invalid credentials"))
		return
	}
	if !verifySecret(req.Secret, u.SecretHash) {
		writeError(w, apperr.New(apperr.Unauthorized, "invalid credentials"))
		return
	}
	if !u.Active {
		writeError(w, apperr.New(apperr.Forbidden, "account disabled"))
		return
	}

	token, err := a.issuer.Generate(u.UserID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, UserID: u.UserID})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, apperr.New(apperr.Unauthorized, "missing caller identity"))
		return
	}
	u, err := a.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.NotFound, "user not found", err))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "list users", err))
		return
	}
	writeJSON(w, http.StatusOK, users)
}
