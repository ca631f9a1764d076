package session

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeToken builds an unsigned-but-well-formed token around the given
// payload. The client never verifies signatures, so "sig" is fine.
func makeToken(t *testing.T, payload any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(raw) + ".sig"
}

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := makeToken(t, map[string]any{
		"user_id":  int64(7),
		"username": "alice",
		"role":     "admin",
		"exp":      exp,
	})

	claims, err := DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.IsAdmin())
	assert.Equal(t, exp, claims.Exp)
	assert.False(t, claims.Expired(time.Now()))
}

func TestDecodeClaimsDefaultsRole(t *testing.T) {
	token := makeToken(t, map[string]any{
		"user_id":  int64(1),
		"username": "bob",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	claims, err := DecodeClaims(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, claims.Role)
	assert.False(t, claims.IsAdmin())
}

func TestDecodeClaimsRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"two segments":     "aaaa.bbbb",
		"four segments":    "a.b.c.d",
		"invalid base64":   "head.!!!.sig",
		"payload not json": "head." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".sig",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeClaims(token)
			assert.Error(t, err)
		})
	}
}

func TestDecodeClaimsRequiresExpiry(t *testing.T) {
	token := makeToken(t, map[string]any{"user_id": int64(1), "username": "bob"})
	_, err := DecodeClaims(token)
	assert.Error(t, err)
}

func TestClaimsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := Claims{Exp: now.Unix()}

	assert.True(t, claims.Expired(now))
	assert.True(t, claims.Expired(now.Add(time.Second)))
	assert.False(t, claims.Expired(now.Add(-time.Second)))
}
