package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretKeyFromWIF(t *testing.T) {
	key, err := SecretKeyFromWIF("5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dNYuTVq9FBy5hmZJ")
	require.NoError(t, err)
	assert.Equal(t, "0c28fca386c7a227600b2fe50b7cae11ec86d3bf1fbe471be89827e19d72aa1d", hex.EncodeToString(key.Bytes()))
	assert.Equal(t, "5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dNYuTVq9FBy5hmZJ", key.WIF())
}

func TestSecretKeyFromWIFRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		wif  string
	}{
		{"empty", ""},
		{"not base58", "0OIl"},
		{"bad checksum", "5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dNYuTVq9FBy5hmZK"},
		{"public key", "STM6LLegbAgLAy28EHrffBVuANFWcFgmqRMW13wBmTExqFE9SCkg4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SecretKeyFromWIF(tt.wif)
			assert.ErrorIs(t, err, ErrInvalidWIF)
		})
	}
}

func TestPublicKeyStringRoundTrip(t *testing.T) {
	key, err := GenerateSecretKey()
	require.NoError(t, err)
	public := key.PublicKey()
	text := public.String()
	assert.Equal(t, PublicKeyPrefix, text[:3])

	parsed, err := PublicKeyFromString(text)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(public))

	// corrupt one character of the checksum area
	corrupted := []byte(text)
	if corrupted[len(corrupted)-1] == 'a' {
		corrupted[len(corrupted)-1] = 'b'
	} else {
		corrupted[len(corrupted)-1] = 'a'
	}
	_, err = PublicKeyFromString(string(corrupted))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := GenerateSecretKey()
	require.NoError(t, err)
	digest := Hasher([]byte(`{"token":"abc123"}`))

	signature, err := key.Sign(digest)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, signature[0], byte(31))

	recovered, err := signature.Recover(digest)
	require.NoError(t, err)
	assert.True(t, recovered.Equal(key.PublicKey()))
	assert.True(t, signature.Verify(key.PublicKey(), digest))

	parsed, err := SignatureFromHex(signature.String())
	require.NoError(t, err)
	assert.Equal(t, signature, parsed)
}

func TestSignatureFailsOnFlippedDigestBit(t *testing.T) {
	key, err := GenerateSecretKey()
	require.NoError(t, err)
	digest := Hasher([]byte("digest"))
	signature, err := key.Sign(digest)
	require.NoError(t, err)

	for bit := 0; bit < Size*8; bit += 37 {
		flipped := digest
		flipped[bit/8] ^= 1 << (bit % 8)
		assert.False(t, signature.Verify(key.PublicKey(), flipped), "bit %d", bit)
	}
}

func TestSignatureFromAnotherKeyDoesNotVerify(t *testing.T) {
	alice, _ := GenerateSecretKey()
	mallory, _ := GenerateSecretKey()
	digest := Hasher([]byte("login"))
	signature, err := mallory.Sign(digest)
	require.NoError(t, err)
	assert.False(t, signature.Verify(alice.PublicKey(), digest))
}
