package server

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"boardsync/domain"
)

// Auth validates incoming JWT tokens. Production tokens are RS256
// signed and verified against a JWKS; test mode accepts HS256 tokens
// signed with a shared secret.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte
}

// NewAuth creates a new Auth instance. Setting AUTH_TEST_MODE=1 in the
// environment switches it to HS256 test mode with TEST_JWT_SECRET.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}
	return a
}

// UserIDFromAuthHeader extracts the user identifier from the
// Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	member, err := a.MemberFromAuthHeader(h)
	if err != nil {
		return "", err
	}
	return member.ID, nil
}

// MemberFromAuthHeader extracts the acting member from the
// Authorization header. Username falls back to the subject when the
// token carries no profile claims.
func (a *Auth) MemberFromAuthHeader(h string) (domain.Member, error) {
	claims, err := a.claims(h)
	if err != nil {
		return domain.Member{}, err
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return domain.Member{}, errors.New("missing sub")
	}
	member := domain.Member{ID: sub, Username: sub}
	if name, ok := claims["nickname"].(string); ok && name != "" {
		member.Username = name
	} else if name, ok := claims["name"].(string); ok && name != "" {
		member.Username = name
	}
	if pic, ok := claims["picture"].(string); ok {
		member.Avatar = pic
	}
	return member, nil
}

func (a *Auth) claims(h string) (jwt.MapClaims, error) {
	if h == "" {
		return nil, errors.New("missing authorization header")
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return nil, errors.New("bad auth header")
	}

	tokenStr := parts[1]
	if strings.Count(tokenStr, ".") != 2 {
		return nil, errors.New("bad auth header")
	}

	if a.TestMode {
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
		if err != nil {
			return nil, err
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return nil, errors.New("invalid claims")
		}
		return claims, nil
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	token, err := parser.Parse(tokenStr, a.JWKS.Keyfunc)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, errors.New("token not valid yet")
	}
	if !claims.VerifyAudience(a.Audience, false) {
		return nil, errors.New("invalid audience")
	}
	if !claims.VerifyIssuer(a.Issuer, false) {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}
