package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken(secret, "user-42", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Errorf("token %q is not a compact JWT", tok)
	}

	id, err := ParseToken(secret, tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if id != "user-42" {
		t.Errorf("user id = %q, want user-42", id)
	}
}

func TestGenerateToken_Validation(t *testing.T) {
	if _, err := GenerateToken(nil, "u", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := GenerateToken(secret, "", time.Hour); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	expired, _ := GenerateToken(secret, "u", -time.Minute)
	otherKey, _ := GenerateToken([]byte("other"), "u", time.Hour)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  issuer,
		Subject: "u",
	}).SignedString(secret)

	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"empty", ""},
		{"expired", expired},
		{"other key", otherKey},
		{"no subject", noSubject},
		{"no expiry", noExpiry},
		{"wrong alg", wrongAlg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(secret, tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("got %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "alice")
	if got := UserIDFromContext(ctx); got != "alice" {
		t.Errorf("UserIDFromContext = %q, want alice", got)
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("UserIDFromContext(empty) = %q, want empty", got)
	}
}
