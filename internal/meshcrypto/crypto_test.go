package meshcrypto_test

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/plejdctl/internal/meshcrypto"
)

func TestXORCrypt_IsInvolution(t *testing.T) {
	key, err := meshcrypto.ParseKey("000102030405060708090A0B0C0D0E0F")
	require.NoError(t, err)
	addr, err := meshcrypto.ParseAddress("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	plain := []byte("05 01 10 00 98 01 80 80 hello plejd mesh")

	encrypted, err := meshcrypto.XORCrypt(key, addr, plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, encrypted)

	decrypted, err := meshcrypto.XORCrypt(key, addr, encrypted)
	require.NoError(t, err)
	assert.Equal(t, plain, decrypted)
}

func TestAuthResponse_MatchesReferenceVector(t *testing.T) {
	var key [16]byte // all zero
	var challenge [16]byte
	for i := range challenge {
		challenge[i] = 0xFF
	}

	digest := sha256.Sum256(challenge[:]) // key is zero, so key XOR challenge == challenge
	var want [16]byte
	for i := 0; i < 16; i++ {
		want[i] = digest[i] ^ digest[i+16]
	}

	got := meshcrypto.AuthResponse(key, challenge)
	assert.Equal(t, want, got)
}

func TestParseAddress_AcceptsColonAndDash(t *testing.T) {
	colonForm, err := meshcrypto.ParseAddress("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	dashForm, err := meshcrypto.ParseAddress("AA-BB-CC-DD-EE-FF")
	require.NoError(t, err)
	assert.Equal(t, colonForm, dashForm)
}

func TestParseKey_RejectsWrongLength(t *testing.T) {
	_, err := meshcrypto.ParseKey("AABB")
	assert.Error(t, err)
}
