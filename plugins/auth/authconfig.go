package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"time"

	"github.com/medtracker/medtracker"
	"golang.org/x/crypto/hkdf"
)

// DefaultSessionTTL is how long a session credential stays valid when
// `auth.sessionTtl` is not set.
const DefaultSessionTTL = 60 * time.Minute

func init() {
	medtracker.RegisterConfigKeys(
		medtracker.ConfigKeyInfo{
			Key:         "auth.signingKey",
			Description: "Secret used to sign session credentials and login state",
			Type:        "string",
			Secret:      true,
		},
		medtracker.ConfigKeyInfo{
			Key:         "auth.sessionTtl",
			Description: "Lifetime of a session credential",
			Type:        "duration",
			Default:     DefaultSessionTTL.String(),
		},
	)
}

// Key purposes. A single configured secret is stretched into independent keys
// so a login state can never be replayed as a session credential.
const (
	sessionKeyInfo = "medtracker session credential v1"
	stateKeyInfo   = "medtracker login state v1"
)

func deriveKey(secret []byte, info string) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		// Only fails when more than 255 blocks are requested.
		panic(err)
	}
	return key
}

// randomSigningKey is used when no key is configured. Credentials issued with
// it do not survive a restart.
func randomSigningKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawStdEncoding.EncodeToString(b)
}
