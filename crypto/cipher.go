package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

var ErrCouldNotOpen = errors.New("could not open sealed data")

// Cipher seals data with XChaCha20-Poly1305. The random nonce is prepended
// to the sealed output.
type Cipher struct {
	aead cipher.AEAD
}

func CipherFromKey(key []byte) Cipher {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		panic("invalid cipher key length")
	}
	return Cipher{aead: aead}
}

func (c Cipher) Seal(data []byte) []byte {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		panic("could not read random nonce: " + err.Error())
	}
	return c.aead.Seal(nonce, nonce, data, nil)
}

func (c Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrCouldNotOpen
	}
	nonce := sealed[:c.aead.NonceSize()]
	data, err := c.aead.Open(nil, nonce, sealed[c.aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrCouldNotOpen
	}
	return data, nil
}

// CipherFromPassword derives the cipher key with scrypt (N=32768, r=8, p=1).
func CipherFromPassword(password, salt []byte) (Cipher, error) {
	key, err := scrypt.Key(password, salt, 32768, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return Cipher{}, err
	}
	return CipherFromKey(key), nil
}
