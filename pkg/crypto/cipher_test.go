package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"203.0.113.7", "2001:db8::1", ""} {
		sealed, err := c.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	a, err := c.Seal("203.0.113.7")
	require.NoError(t, err)
	b, err := c.Seal("203.0.113.7")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "a fresh nonce must produce distinct ciphertexts")
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New("too-short")
	assert.Error(t, err)

	_, err = New(testKey + "x")
	assert.Error(t, err)
}

func TestOpenRejectsGarbage(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	_, err = c.Open("not-base64!!")
	assert.Error(t, err)

	_, err = c.Open("aGVsbG8=")
	assert.Error(t, err)
}

func TestOpenRejectsTampering(t *testing.T) {
	c, err := New(testKey)
	require.NoError(t, err)

	sealed, err := c.Seal("203.0.113.7")
	require.NoError(t, err)

	other, err := New("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err, "a different key must not open the ciphertext")
}
