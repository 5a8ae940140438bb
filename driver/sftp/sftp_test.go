package sftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestClientConfig(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	t.Run("requires authentication", func(t *testing.T) {
		_, err := clientConfig(Config{Host: "h", Username: "u"})
		assert.Error(t, err)
	})

	t.Run("password", func(t *testing.T) {
		c, err := clientConfig(Config{Username: "u", Password: "p"})
		require.NoError(t, err)
		assert.Equal(t, "u", c.User)
		assert.Len(t, c.Auth, 1)
	})

	t.Run("private key and password", func(t *testing.T) {
		c, err := clientConfig(Config{Username: "u", Password: "p", PrivateKey: pem.EncodeToMemory(block)})
		require.NoError(t, err)
		assert.Len(t, c.Auth, 2)
	})

	t.Run("bad private key", func(t *testing.T) {
		_, err := clientConfig(Config{Username: "u", PrivateKey: []byte("nope")})
		assert.Error(t, err)
	})

	t.Run("pinned host key", func(t *testing.T) {
		c, err := clientConfig(Config{Username: "u", Password: "p", HostKey: ssh.MarshalAuthorizedKey(sshPub)})
		require.NoError(t, err)
		assert.NoError(t, c.HostKeyCallback("h:22", nil, sshPub))

		other, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		otherPub, err := ssh.NewPublicKey(other)
		require.NoError(t, err)
		assert.Error(t, c.HostKeyCallback("h:22", nil, otherPub))
	})
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "example.com:22", address(Config{Host: "example.com"}))
	assert.Equal(t, "example.com:2222", address(Config{Host: "example.com", Port: 2222}))
	assert.Equal(t, "[::1]:22", address(Config{Host: "::1"}))
}
