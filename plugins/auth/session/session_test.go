package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medtracker/medtracker/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

var testKey = []byte("session-test-key")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCodec_RoundTrip(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCodec(testKey, WithClock(fixedClock(issued)))

	ids := []Identity{
		{ID: "42", Email: "a@b.com"},
		{ID: "1099", Email: "pat@example.com", Name: "Pat Doe", Picture: "https://example.com/p.png"},
		{ID: "x", Email: "unicode@example.com", Name: "Zoë Ünïcødé"},
	}
	for _, ttl := range []time.Duration{time.Minute, time.Hour, 24 * time.Hour} {
		for _, id := range ids {
			tok, err := c.Encode(id, ttl)
			require.NoError(t, err)

			cred, err := c.Decode(tok)
			require.NoError(t, err)
			assert.Equal(t, id, cred.Identity)
			assert.Equal(t, issued, cred.IssuedAt.UTC())
			assert.Equal(t, ttl, cred.ExpiresAt.Sub(cred.IssuedAt))
			assert.NotEmpty(t, cred.ID)
		}
	}
}

func TestCodec_UniqueIDs(t *testing.T) {
	c := NewCodec(testKey)
	id := Identity{ID: "42", Email: "a@b.com"}
	t1, err := c.Encode(id, time.Hour)
	require.NoError(t, err)
	t2, err := c.Encode(id, time.Hour)
	require.NoError(t, err)

	c1, _ := c.Decode(t1)
	c2, _ := c.Decode(t2)
	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestCodec_Expired(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tok, err := NewCodec(testKey, WithClock(fixedClock(issued))).Encode(Identity{ID: "42", Email: "a@b.com"}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		err  error
	}{
		{"just issued", issued, nil},
		{"one second before expiry", issued.Add(time.Hour - time.Second), nil},
		{"at expiry", issued.Add(time.Hour), ErrExpiredSession},
		{"long after expiry", issued.Add(30 * 24 * time.Hour), ErrExpiredSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := NewCodec(testKey, WithClock(fixedClock(tt.at))).Decode(tok)
			if tt.err == nil {
				require.NoError(t, err)
				assert.Equal(t, "42", cred.Identity.ID)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, Credential{}, cred)
			assert.Equal(t, codes.Unauthenticated, errors.Code(err))
		})
	}
}

func TestCodec_Invalid(t *testing.T) {
	now := time.Now()
	c := NewCodec(testKey, WithClock(fixedClock(now)))
	good, err := c.Encode(Identity{ID: "42", Email: "a@b.com"}, time.Hour)
	require.NoError(t, err)

	sign := func(claims jwt.Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() *Claims {
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "abc",
				Subject:   "42",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Email: "a@b.com",
		}
	}

	noSub := valid()
	noSub.Subject = ""
	noEmail := valid()
	noEmail.Email = ""
	noExp := valid()
	noExp.ExpiresAt = nil
	noJTI := valid()
	noJTI.ID = ""
	futureIat := valid()
	futureIat.IssuedAt = jwt.NewNumericDate(now.Add(time.Hour))
	expiredNoSub := valid()
	expiredNoSub.Subject = ""
	expiredNoSub.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	parts := strings.Split(good, ".")

	tests := map[string]string{
		"empty":            "",
		"garbage":          "not-a-token",
		"bad signature":    parts[0] + "." + parts[1] + ".c2lnbmF0dXJl",
		"wrong key":        sign(valid(), jwt.SigningMethodHS256, []byte("other-key")),
		"unsigned":         sign(valid(), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType),
		"hs512":            sign(valid(), jwt.SigningMethodHS512, testKey),
		"missing sub":      sign(noSub, jwt.SigningMethodHS256, testKey),
		"missing email":    sign(noEmail, jwt.SigningMethodHS256, testKey),
		"missing exp":      sign(noExp, jwt.SigningMethodHS256, testKey),
		"missing jti":      sign(noJTI, jwt.SigningMethodHS256, testKey),
		"iat in future":    sign(futureIat, jwt.SigningMethodHS256, testKey),
		"expired, no sub":  sign(expiredNoSub, jwt.SigningMethodHS256, testKey),
		"mistyped email":   sign(jwt.MapClaims{"sub": "42", "email": 7, "jti": "abc", "iat": now.Unix(), "exp": now.Add(time.Hour).Unix()}, jwt.SigningMethodHS256, testKey),
		"mistyped subject": sign(jwt.MapClaims{"sub": 42, "email": "a@b.com", "jti": "abc", "iat": now.Unix(), "exp": now.Add(time.Hour).Unix()}, jwt.SigningMethodHS256, testKey),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			cred, err := c.Decode(tok)
			assert.ErrorIs(t, err, ErrInvalidSession)
			assert.Equal(t, Credential{}, cred)
			assert.Equal(t, "invalid_session", errors.PublicMessage(err))
		})
	}
}

func TestCodec_EncodeRequiresIdentity(t *testing.T) {
	c := NewCodec(testKey)
	_, err := c.Encode(Identity{Email: "a@b.com"}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = c.Encode(Identity{ID: "42"}, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidSession)
}
