package auth

import (
	"testing"
	"time"
)

func TestTokenSignerRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	signer, err := NewTokenSigner(secret, "hubcore-analyzer", time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, err := signer.Sign("H1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseJWT(token, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "hubcore-analyzer" || claims.HubID != "H1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseJWTRejectsWrongSecret(t *testing.T) {
	signer, _ := NewTokenSigner([]byte("a"), "svc", 0)
	token, _ := signer.Sign("H1")
	if _, err := ParseJWT(token, []byte("b")); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}
}

func TestParseJWTRejectsExpired(t *testing.T) {
	signer, _ := NewTokenSigner([]byte("a"), "svc", time.Minute)
	signer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _ := signer.Sign("H1")
	if _, err := ParseJWT(token, []byte("a")); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestNewTokenSignerValidates(t *testing.T) {
	if _, err := NewTokenSigner(nil, "svc", 0); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
	if _, err := NewTokenSigner([]byte("a"), "", 0); err == nil {
		t.Fatalf("expected empty subject to fail")
	}
}
