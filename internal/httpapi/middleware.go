package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"github.com/handshake/coordinator/internal/apperr"
	"github.com/handshake/coordinator/internal/idempotency"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// corsMiddleware allows cross-origin requests from any client, matching
// the permissive stance a mobile/web client pair needs during
// development; a deployment behind a known origin can narrow this at
// the reverse proxy.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces a valid bearer token and injects the caller's
// user id into the request context.
func (a *API) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, apperr.New(apperr.Unauthorized, "missing Authorization header"))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, apperr.New(apperr.Unauthorized, "expected 'Bearer <token>'"))
			return
		}
		claims, err := a.issuer.Verify(parts[1])
		if err != nil {
			writeError(w, apperr.Wrap(apperr.Unauthorized, "invalid token", err))
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, claims.UserID)
		next(w, r.WithContext(ctx))
	}
}

func userIDFromContext(ctx context.Context) (string, error) {
	v, ok := ctx.Value(userIDContextKey).(string)
	if !ok || v == "" {
		return "", fmt.Errorf("httpapi: no user id in context")
	}
	return v, nil
}

// responseRecorder buffers a handler's status/body so withIdempotency can
// cache it after the handler runs.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays a cached response for a request carrying the
// same Idempotency-Key, so a client retrying after a dropped response
// never double-creates a challenge.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || a.idem == nil {
			next(w, r)
			return
		}

		if resp, found := a.idem.Get(r.Context(), key); found {
			for k, vs := range resp.Headers {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idem.Set(r.Context(), key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}

// writeRateLimitError writes a 429 with a jittered Retry-After, so a
// burst of retries from many clients doesn't land on the exact same
// second.
func writeRateLimitError(w http.ResponseWriter) {
	retryAfterSeconds := 1 + rand.Intn(2)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	writeError(w, apperr.New(apperr.RateLimited, "too many requests"))
}

// envelope is the shape of every HTTP response on this surface: a
// success flag plus either data or error, never both.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: v})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
