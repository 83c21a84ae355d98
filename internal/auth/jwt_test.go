package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseClientToken(t *testing.T) {
	secret := []byte("test-secret")
	valid := signToken(t, secret, Claims{
		ClientID: "acme-logistics",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ParseClientToken(valid, secret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ClientID != "acme-logistics" {
		t.Fatalf("clientID = %s", claims.ClientID)
	}
}

func TestParseClientTokenRejections(t *testing.T) {
	secret := []byte("test-secret")

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{
			name: "wrong secret",
			token: signToken(t, []byte("other-secret"), Claims{
				ClientID: "acme-logistics",
			}),
		},
		{
			name: "missing client id",
			token: signToken(t, secret, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}),
		},
		{
			name: "expired token",
			token: signToken(t, secret, Claims{
				ClientID: "acme-logistics",
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			}),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseClientToken(tc.token, secret); err == nil {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestParseClientTokenEmptySecret(t *testing.T) {
	if _, err := ParseClientToken("whatever", nil); err == nil {
		t.Fatal("expected rejection for empty secret")
	}
}
