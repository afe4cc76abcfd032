// Package auth issues and verifies the bearer tokens the HTTP surface
// accepts, using a hand-rolled HS256 JWT rather than a third-party JWT
// library — there is no JWT dependency anywhere in the retrieval pack,
// and the signing/verification logic here is small enough that pulling
// one in would only add an unneeded dependency.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims identifies the signed-in user and the scope of the token.
type Claims struct {
	UserID    string `json:"user_id"`
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

const (
	issuer   = "handshake-coordinator"
	audience = "handshake-api"
)

var (
	ErrInvalidFormat    = errors.New("auth: invalid token format")
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrExpired          = errors.New("auth: token expired")
	ErrInvalidClaims    = errors.New("auth: invalid issuer or audience")
)

// Issuer signs and verifies tokens with a single shared secret.
type Issuer struct {
	secret   []byte
	lifetime time.Duration
}

// NewIssuer builds an Issuer. It returns an error when secret is shorter
// than 32 bytes (an empty secret included), so an unconfigured secret
// fails startup instead of falling back to an insecure default.
func NewIssuer(secret string, lifetime time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: token signing secret must be at least 32 bytes")
	}
	return &Issuer{secret: []byte(secret), lifetime: lifetime}, nil
}

// Generate issues a signed token for userID.
func (i *Issuer) Generate(userID string) (string, error) {
	now := time.Now().Unix()
	claims := Claims{
		UserID:    userID,
		Issuer:    issuer,
		Audience:  audience,
		IssuedAt:  now,
		ExpiresAt: now + int64(i.lifetime.Seconds()),
	}

	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	return signingInput + "." + i.sign(signingInput), nil
}

// Verify parses and validates token, returning its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidFormat
	}

	signingInput := parts[0] + "." + parts[1]
	expected := i.sign(signingInput)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return nil, ErrInvalidSignature
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("auth: decode claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("auth: unmarshal claims: %w", err)
	}

	if time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrExpired
	}
	if claims.Issuer != issuer || claims.Audience != audience {
		return nil, ErrInvalidClaims
	}
	return &claims, nil
}

func (i *Issuer) sign(signingInput string) string {
	h := hmac.New(sha256.New, i.secret)
	h.Write([]byte(signingInput))
	return base64URLEncode(h.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}
