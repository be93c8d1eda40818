package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFernetCipher_RoundTrip(t *testing.T) {
	c := NewFernetCipher("test-secret")

	cases := []string{"", "s3cret", "a long value with spaces and punctuation!@#"}
	for _, plaintext := range cases {
		token, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, token)

		got, err := c.Decrypt(token)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestFernetCipher_TamperedTokenFailsDecrypt(t *testing.T) {
	c := NewFernetCipher("test-secret")
	token, err := c.Encrypt("s3cret")
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = c.Decrypt(string(tampered))
	assert.Error(t, err)
}

func TestFernetCipher_WrongKeyFailsDecrypt(t *testing.T) {
	a := NewFernetCipher("secret-a")
	b := NewFernetCipher("secret-b")

	token, err := a.Encrypt("s3cret")
	require.NoError(t, err)

	_, err = b.Decrypt(token)
	assert.Error(t, err)
}
