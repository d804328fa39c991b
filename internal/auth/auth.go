// Package auth implements a boolean authentication gate: a no-op gate
// when authentication is disabled, or HMAC-signed JWT verification
// against a configured secret when it is enabled.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned when a token is missing or fails
// verification while authentication is required.
var ErrUnauthorized = errors.New("unauthorized")

// ClientInfo is the identity the gate hands back to the coordinator on
// successful authentication, stamped onto AUTH_SUCCESS.
type ClientInfo struct {
	ClientID string    `json:"clientId"`
	Name     string    `json:"name,omitempty"`
	IssuedAt time.Time `json:"issuedAt,omitempty"`
}

// Service authenticates a client's declared identity and bearer token.
// Grounded on boolean-gate framing: Authenticate either
// succeeds with a ClientInfo or fails with ErrUnauthorized.
type Service interface {
	Authenticate(ctx context.Context, clientID string, token string) (ClientInfo, error)
}

// StaticGate authenticates every request unconditionally. Used when
// authentication is not required — the "auth disabled" boolean gate.
type StaticGate struct{}

// NewStaticGate returns an always-succeeding Service.
func NewStaticGate() StaticGate { return StaticGate{} }

// Authenticate never fails; it echoes the declared clientID.
func (StaticGate) Authenticate(_ context.Context, clientID string, _ string) (ClientInfo, error) {
	return ClientInfo{ClientID: clientID, IssuedAt: time.Now()}, nil
}

// claims is trimmed to the fields ClientInfo needs: subject, name,
// issued-at. No tenant/role/session fields, since this domain has no
// use for them.
type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HMAC-SHA256 signed bearer tokens against a
// configured secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier constructs a verifier for the given signing secret and
// expected issuer (issuer check is skipped when issuer is empty).
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

// Authenticate parses and verifies token, returning the ClientInfo
// carried in its claims. The declared clientID is only used as a
// fallback subject when the token carries none.
func (v *JWTVerifier) Authenticate(_ context.Context, clientID string, token string) (ClientInfo, error) {
	if token == "" {
		return ClientInfo{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return ClientInfo{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return ClientInfo{}, fmt.Errorf("%w: unrecognized claims", ErrUnauthorized)
	}
	if v.issuer != "" && c.Issuer != v.issuer {
		return ClientInfo{}, fmt.Errorf("%w: unexpected issuer %q", ErrUnauthorized, c.Issuer)
	}

	subject := c.Subject
	if subject == "" {
		subject = clientID
	}
	var issuedAt time.Time
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time
	}
	return ClientInfo{ClientID: subject, Name: c.Name, IssuedAt: issuedAt}, nil
}
