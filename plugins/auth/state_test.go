package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/medtracker/medtracker/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_RoundTrip(t *testing.T) {
	clk := newClock()
	s := &stateSigner{key: []byte("state-key"), now: clk.Now}

	raw := s.sign(loginIntent{ReturnURL: "/medications?tab=2", RememberMe: true})
	in, err := s.parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/medications?tab=2", in.ReturnURL)
	assert.True(t, in.RememberMe)
	assert.NotEmpty(t, in.Nonce)

	assert.NotEqual(t, raw, s.sign(loginIntent{ReturnURL: "/medications?tab=2", RememberMe: true}),
		"each state should carry a fresh nonce")
}

func TestState_Expiry(t *testing.T) {
	clk := newClock()
	s := &stateSigner{key: []byte("state-key"), now: clk.Now}
	raw := s.sign(loginIntent{ReturnURL: "/dashboard"})

	clk.Advance(stateExpiration)
	_, err := s.parse(raw)
	require.NoError(t, err, "state is valid up to and including the expiry")

	clk.Advance(time.Second)
	_, err = s.parse(raw)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestState_Invalid(t *testing.T) {
	clk := newClock()
	s := &stateSigner{key: []byte("state-key"), now: clk.Now}
	other := &stateSigner{key: []byte("other-key"), now: clk.Now}
	future := &stateSigner{key: []byte("state-key"), now: func() time.Time { return clk.Now().Add(time.Minute) }}

	valid := s.sign(loginIntent{ReturnURL: "/dashboard"})
	payload, sig, _ := strings.Cut(valid, ".")
	tampered := strings.ToUpper(payload[:1]) + strings.ToLower(payload[1:]) + "." + sig

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"no separator", "abcdef"},
		{"garbage", "a.b"},
		{"tampered payload", tampered},
		{"wrong key", other.sign(loginIntent{ReturnURL: "/dashboard"})},
		{"issued in the future", future.sign(loginIntent{ReturnURL: "/dashboard"})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.parse(tc.state)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidState))
		})
	}
}
