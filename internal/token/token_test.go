package token_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizroom/internal/token"
)

func TestMinter_Mint(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	clock := func() time.Time { return fixed }

	m, err := token.NewMinter(token.Config{Secret: []byte("secret"), NowFunc: clock})
	require.NoError(t, err)

	tok := m.Mint("A", "seed-1")
	raw, err := base64.StdEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, 32, "token should be a base64 SHA-256 HMAC")

	assert.Equal(t, tok, m.Mint("A", "seed-1"), "same inputs should give the same token")
	assert.NotEqual(t, tok, m.Mint("A", "seed-2"))
	assert.NotEqual(t, tok, m.Mint("B", "seed-1"))

	other, err := token.NewMinter(token.Config{Secret: []byte("another secret"), NowFunc: clock})
	require.NoError(t, err)
	assert.NotEqual(t, tok, other.Mint("A", "seed-1"), "tokens should depend on the secret")
}

func TestMinter_RandomSecret(t *testing.T) {
	fixed := time.Now()
	clock := func() time.Time { return fixed }

	m1, err := token.NewMinter(token.Config{NowFunc: clock})
	require.NoError(t, err)
	m2, err := token.NewMinter(token.Config{NowFunc: clock})
	require.NoError(t, err)

	assert.NotEqual(t, m1.Mint("A", "s"), m2.Mint("A", "s"))
}
