// Package session encodes and decodes the short lived session credential that
// the API hands to the browser after a successful login or refresh.
//
// Credentials are compact HS256 JWTs. They carry the user's identity and their
// own expiry, so validating one needs no storage or network access.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/medtracker/medtracker/errors"
	"google.golang.org/grpc/codes"
)

var (
	// ErrInvalidSession is returned for malformed, forged or incomplete
	// credentials.
	ErrInvalidSession = errors.NewC("session: credential is invalid", codes.Unauthenticated).
				WithPublicMessage("invalid_session")

	// ErrExpiredSession is returned once a credential is past its expiry.
	ErrExpiredSession = errors.NewC("session: credential has expired", codes.Unauthenticated).
				WithPublicMessage("expired_session")

	errMissingClaim = errors.New("session: missing claim")
)

// Identity is the user as reported by the identity provider.
type Identity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Credential is a decoded session credential.
type Credential struct {
	Identity  Identity
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is the JWT payload of a session credential.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// Validate is called by the jwt parser after the standard claims checks.
func (c *Claims) Validate() error {
	switch {
	case c.Subject == "":
		return errors.Mark(errMissingClaim, 0).Append("sub")
	case c.Email == "":
		return errors.Mark(errMissingClaim, 0).Append("email")
	case c.ID == "":
		return errors.Mark(errMissingClaim, 0).Append("jti")
	case c.IssuedAt == nil:
		return errors.Mark(errMissingClaim, 0).Append("iat")
	}
	return nil
}

// Codec signs and verifies session credentials with a symmetric key.
type Codec struct {
	key []byte
	now func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec returns a codec that signs with key.
func NewCodec(key []byte, opts ...Option) *Codec {
	c := &Codec{key: key, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode issues a credential for the identity that expires after ttl.
func (c *Codec) Encode(id Identity, ttl time.Duration) (string, error) {
	if id.ID == "" || id.Email == "" {
		return "", errors.Mark(ErrInvalidSession, 0).Append("identity requires id and email")
	}
	now := c.now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:   id.Email,
		Name:    id.Name,
		Picture: id.Picture,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return ss, nil
}

// Decode verifies the signature and expiry of a credential and returns its
// contents. There is no leeway: a credential is rejected from the second it
// expires.
func (c *Codec) Decode(token string) (Credential, error) {
	if token == "" {
		return Credential{}, errors.Mark(ErrInvalidSession, 0).Append("empty credential")
	}
	parsed, err := jwt.ParseWithClaims(
		token,
		&Claims{},
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, errMissingClaim) {
			return Credential{}, errors.Mark(ErrExpiredSession, 0)
		}
		return Credential{}, errors.Mark(ErrInvalidSession, 0).Append(err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Credential{}, errors.Mark(ErrInvalidSession, 0).Append("unexpected claims")
	}
	return Credential{
		Identity: Identity{
			ID:      claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
			Picture: claims.Picture,
		},
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
