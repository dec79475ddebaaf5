package keystore_test

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tiered-custody/internal/wallet/keystore"
)

const privateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecrypt(t *testing.T) {
	v, err := keystore.New("correct horse battery staple")
	require.NoError(t, err)

	enc, err := v.Encrypt(privateKey)
	require.NoError(t, err)

	parts := strings.Split(enc, ":")
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 32)
	// 64 hex chars of key plus a full padding block
	assert.Len(t, parts[1], 2*80)

	dec, err := v.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, privateKey, dec)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	v, err := keystore.New("secret")
	require.NoError(t, err)

	a, err := v.Encrypt(privateKey)
	require.NoError(t, err)
	b, err := v.Encrypt(privateKey)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptWrongSecret(t *testing.T) {
	v, err := keystore.New("secret")
	require.NoError(t, err)
	other, err := keystore.New("other secret")
	require.NoError(t, err)

	enc, err := v.Encrypt(privateKey)
	require.NoError(t, err)

	dec, err := other.Decrypt(enc)
	// a wrong key almost always breaks the padding; if it does not, the plaintext is garbage
	if err == nil {
		assert.NotEqual(t, privateKey, dec)
	} else {
		assert.True(t, errors.Is(err, keystore.ErrMalformedCiphertext))
	}
}

func TestDecryptMalformed(t *testing.T) {
	v, err := keystore.New("secret")
	require.NoError(t, err)

	for _, input := range []string{
		"",
		"no-separator",
		"a:b:c",
		"zz:00112233445566778899aabbccddeeff",
		"0011:00112233445566778899aabbccddeeff",
		"00112233445566778899aabbccddeeff:",
		"00112233445566778899aabbccddeeff:0011",
	} {
		_, err := v.Decrypt(input)
		assert.True(t, errors.Is(err, keystore.ErrMalformedCiphertext), input)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := keystore.New("")
	assert.Equal(t, keystore.ErrEmptySecret, err)
}
