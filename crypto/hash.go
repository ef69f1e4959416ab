package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Size is the byte length of digests, secrets and transport tokens.
const Size = 32

var ErrInvalidHash = errors.New("invalid hash")

// Hash is a sha256 digest. Chain digests travel hex encoded.
type Hash [Size]byte

var ZeroValueHash Hash

func (h Hash) MarshalText() (text []byte, err error) {
	text = make([]byte, hex.EncodedLen(Size))
	hex.Encode(text, h[:])
	return
}

func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func HashFromHex(text string) (Hash, error) {
	var hash Hash
	data, err := hex.DecodeString(text)
	if err != nil || len(data) != Size {
		return hash, ErrInvalidHash
	}
	copy(hash[:], data)
	return hash, nil
}

func (h Hash) Equal(another Hash) bool {
	return h == another
}

func Hasher(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}
