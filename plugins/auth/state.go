package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/medtracker/medtracker/errors"
)

const stateExpiration = 5 * time.Minute

// loginIntent is carried through the provider redirect in the OAuth state
// parameter.
type loginIntent struct {
	ReturnURL  string    `json:"r"`
	RememberMe bool      `json:"m,omitempty"`
	IssuedAt   time.Time `json:"t"`
	Nonce      string    `json:"n"`
}

// stateSigner encodes a login intent as base64url(json) "." base64url(hmac).
type stateSigner struct {
	key []byte
	now func() time.Time
}

func (s *stateSigner) sign(in loginIntent) string {
	if in.Nonce == "" {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		in.Nonce = base64.RawURLEncoding.EncodeToString(b)
	}
	if in.IssuedAt.IsZero() {
		in.IssuedAt = s.now()
	}
	payload, _ := json.Marshal(in)
	p := base64.RawURLEncoding.EncodeToString(payload)
	return p + "." + base64.RawURLEncoding.EncodeToString(s.mac(p))
}

func (s *stateSigner) parse(raw string) (loginIntent, error) {
	if raw == "" {
		return loginIntent{}, errors.Mark(ErrInvalidState, 0).Append("state parameter is empty")
	}
	p, sig, ok := strings.Cut(raw, ".")
	if !ok {
		return loginIntent{}, errors.Mark(ErrInvalidState, 0).Append("state parameter is malformed")
	}
	actual, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(actual, s.mac(p)) {
		return loginIntent{}, errors.Mark(ErrInvalidState, 0).Append("state parameter has invalid signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(p)
	if err != nil {
		return loginIntent{}, errors.Mark(ErrInvalidState, 0).Append("state parameter is not base64 encoded")
	}
	var in loginIntent
	if err := json.Unmarshal(payload, &in); err != nil {
		return loginIntent{}, errors.Mark(ErrInvalidState, 0).Append("state parameter json decode failed")
	}
	now := s.now()
	if in.IssuedAt.After(now) || in.IssuedAt.Add(stateExpiration).Before(now) {
		return loginIntent{}, errors.Mark(ErrInvalidState, 0).Append("state parameter has expired")
	}
	return in, nil
}

func (s *stateSigner) mac(payload string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
