package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role claim values issued by the control plane.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims is the decoded payload of a bearer token. The client decodes it
// for expiry and capability hints only and never verifies the signature;
// authorization is re-enforced server-side on every call.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
}

// ExpiresAt returns the expiry claim as a timestamp.
func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

// Expired reports whether the claims have expired relative to now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt().After(now)
}

// IsAdmin reports whether the role claim grants admin capability.
func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// DecodeClaims extracts the claims from a compact three-segment token.
// Any malformed input yields an error; callers treat that as the absence
// of a valid session, never as a fault.
func DecodeClaims(token string) (Claims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return Claims{}, fmt.Errorf("malformed token: expected 3 segments, got %d", len(segments))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[1], "="))
	if err != nil {
		return Claims{}, fmt.Errorf("malformed token payload: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, fmt.Errorf("malformed token claims: %w", err)
	}
	if claims.Exp == 0 {
		return Claims{}, fmt.Errorf("token carries no expiry claim")
	}
	if claims.Role == "" {
		claims.Role = RoleUser
	}
	return claims, nil
}
