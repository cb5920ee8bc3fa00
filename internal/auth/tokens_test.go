package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "ember-auth",
		Audience:      "ember-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateSessionToken(t *testing.T) {
	issuer := newTestIssuer(nil)

	token, expiresIn, err := issuer.IssueSessionToken("user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %s", subject)
	}
}

func TestValidateRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(nil)
	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        "ember-auth",
		Audience:      "ember-api",
	})

	token, _, err := other.IssueSessionToken("user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	if _, err := issuer.ValidateToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid session token error, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issued := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issued })

	token, _, err := issuer.IssueSessionToken("user-1")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	late := newTestIssuer(func() time.Time { return issued.Add(31 * time.Minute) })
	if _, err := late.ValidateToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	issuer := newTestIssuer(nil)
	if _, _, err := issuer.IssueSessionToken(""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
