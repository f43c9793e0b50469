package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func testModeAuth(t *testing.T, secret string) *Auth {
	t.Helper()
	t.Setenv("AUTH_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", secret)
	return NewAuth(nil, "", "")
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthTestModeExtractsMember(t *testing.T) {
	a := testModeAuth(t, "s3cret")
	signed := signHS256(t, "s3cret", jwt.MapClaims{
		"sub":      "u1",
		"nickname": "ann",
		"picture":  "https://example.com/a.png",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	member, err := a.MemberFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("member from header: %v", err)
	}
	if member.ID != "u1" || member.Username != "ann" || member.Avatar != "https://example.com/a.png" {
		t.Fatalf("unexpected member %#v", member)
	}

	userID, err := a.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil || userID != "u1" {
		t.Fatalf("unexpected user id %q err %v", userID, err)
	}
}

func TestAuthUsernameFallsBackToSub(t *testing.T) {
	a := testModeAuth(t, "s3cret")
	signed := signHS256(t, "s3cret", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	member, err := a.MemberFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("member from header: %v", err)
	}
	if member.Username != "u1" {
		t.Fatalf("expected fallback username, got %q", member.Username)
	}
}

func TestAuthRejectsBadHeaders(t *testing.T) {
	a := testModeAuth(t, "s3cret")

	cases := []string{
		"",
		"Bearer",
		"Bearer notajwt",
		"Bearer " + signHS256(t, "wrong-secret", jwt.MapClaims{"sub": "u1"}),
	}
	for _, h := range cases {
		if _, err := a.UserIDFromAuthHeader(h); err == nil {
			t.Fatalf("expected error for header %q", h)
		}
	}
}

func TestAuthRejectsMissingSub(t *testing.T) {
	a := testModeAuth(t, "s3cret")
	signed := signHS256(t, "s3cret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if _, err := a.MemberFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected error for token without sub")
	}
}
