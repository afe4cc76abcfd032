package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/handshake/coordinator/internal/auth"
)

const testSecret = "a-secret-at-least-32-bytes-long!!"

func TestGenerateAndVerify_RoundTrips(t *testing.T) {
	issuer, err := auth.NewIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, err := issuer.Generate("alice")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a three-segment token, got %q", token)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "alice" {
		t.Errorf("expected user_id alice, got %s", claims.UserID)
	}
}

func TestVerify_RejectsTamperedSignature(t *testing.T) {
	issuer, _ := auth.NewIssuer(testSecret, time.Hour)
	token, _ := issuer.Generate("alice")

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + "not-the-real-signature"

	if _, err := issuer.Verify(tampered); err != auth.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	issuer, _ := auth.NewIssuer(testSecret, -time.Second)
	token, _ := issuer.Generate("alice")

	if _, err := issuer.Verify(token); err != auth.ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerify_RejectsMalformedToken(t *testing.T) {
	issuer, _ := auth.NewIssuer(testSecret, time.Hour)

	if _, err := issuer.Verify("not-a-jwt"); err != auth.ErrInvalidFormat {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestVerify_RejectsTokenSignedWithDifferentSecret(t *testing.T) {
	issuerA, _ := auth.NewIssuer(testSecret, time.Hour)
	issuerB, _ := auth.NewIssuer("a-different-secret-32-bytes-long!", time.Hour)

	token, _ := issuerA.Generate("alice")
	if _, err := issuerB.Verify(token); err != auth.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature across issuers, got %v", err)
	}
}

func TestNewIssuer_RejectsShortSecret(t *testing.T) {
	if _, err := auth.NewIssuer("too-short", time.Hour); err == nil {
		t.Fatal("expected an error for a secret under 32 bytes")
	}
}
