package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 32字节密钥的十六进制形式
var testKeyHex = strings.Repeat("ab", 32)

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKeyHex)
	require.NoError(t, err)

	sealed, err := s.Seal("refresh-token-plaintext")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "refresh-token-plaintext")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-plaintext", opened)
}

func TestSealUsesFreshNonces(t *testing.T) {
	s, err := NewSealer(testKeyHex)
	require.NoError(t, err)

	first, err := s.Seal("same input")
	require.NoError(t, err)
	second, err := s.Seal("same input")
	require.NoError(t, err)

	// 随机nonce：同一明文两次加密产物必须不同
	assert.NotEqual(t, first, second)
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	_, err := NewSealer("not hex at all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid hex")

	_, err = NewSealer(strings.Repeat("ab", 16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	s, err := NewSealer(testKeyHex)
	require.NoError(t, err)

	sealed, err := s.Seal("secret")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = s.Open(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestOpenRejectsTruncatedInput(t *testing.T) {
	s, err := NewSealer(testKeyHex)
	require.NoError(t, err)

	_, err = s.Open([]byte{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestOpenRejectsForeignKey(t *testing.T) {
	alice, err := NewSealer(testKeyHex)
	require.NoError(t, err)
	bob, err := NewSealer(strings.Repeat("cd", 32))
	require.NoError(t, err)

	sealed, err := alice.Seal("secret")
	require.NoError(t, err)

	_, err = bob.Open(sealed)
	assert.Error(t, err)
}
