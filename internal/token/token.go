// Package token mints opaque player tokens.
//
// A token is base64(HMAC-SHA256(secret, "name:seed:unixNano")). It is
// unguessable without the server secret but is not bound to a connection.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

const secretSize = 32

type Config struct {
	// Secret keys the HMAC. An empty secret is replaced by a random one, which
	// is fine since tokens never outlive the process.
	Secret  []byte
	NowFunc func() time.Time
}

type Minter struct {
	secret []byte
	now    func() time.Time
}

func NewMinter(c Config) (*Minter, error) {
	m := &Minter{
		secret: c.Secret,
		now:    c.NowFunc,
	}

	if len(m.secret) == 0 {
		m.secret = make([]byte, secretSize)
		if _, err := rand.Read(m.secret); err != nil {
			return nil, fmt.Errorf("token: generate secret: %w", err)
		}
	}

	if m.now == nil {
		m.now = time.Now
	}

	return m, nil
}

// Mint returns a fresh token for a player called name. seed should be unique
// per call.
func (m *Minter) Mint(name, seed string) string {
	payload := name + ":" + seed + ":" + strconv.FormatInt(m.now().UTC().UnixNano(), 10)

	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
