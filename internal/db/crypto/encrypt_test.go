package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{"", "AKIAEXAMPLE", "a-very-long-account-key-with-many-characters-1234567890=="} {
		ciphertext, err := enc.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		decrypted, err := enc.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncryptor_NonceVaries(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	c1, err := enc.Encrypt("same-text")
	require.NoError(t, err)
	c2, err := enc.Encrypt("same-text")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestEncryptor_SealJSON(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	type secret struct {
		AccessKeyID string `json:"access_key_id"`
	}
	sealed, err := enc.SealJSON(secret{AccessKeyID: "AK"})
	require.NoError(t, err)
	assert.NotContains(t, sealed, "AK")

	var out secret
	require.NoError(t, enc.OpenJSON(sealed, &out))
	assert.Equal(t, "AK", out.AccessKeyID)

	untouched := secret{AccessKeyID: "keep"}
	require.NoError(t, enc.OpenJSON("", &untouched))
	assert.Equal(t, "keep", untouched.AccessKeyID)
}

func TestEncryptor_Tampered(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	c, err := enc.Encrypt("secret")
	require.NoError(t, err)

	flipped := []byte(c)
	if flipped[len(flipped)-1] == '0' {
		flipped[len(flipped)-1] = '1'
	} else {
		flipped[len(flipped)-1] = '0'
	}
	_, err = enc.Decrypt(string(flipped))
	require.Error(t, err)
}

func TestNewEncryptor_InvalidKey(t *testing.T) {
	_, err := NewEncryptor("tooshort")
	require.Error(t, err)
	_, err = NewEncryptor("zzzz")
	require.Error(t, err)
}
