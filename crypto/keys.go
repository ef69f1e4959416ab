package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

// Chain keys are secp256k1. Secrets travel as WIF strings, public keys as
// compressed points with the STM prefix and a ripemd160 checksum.

const (
	PublicKeyPrefix = "STM"
	PublicKeySize   = 33
	wifVersion      = 0x80
)

var (
	ErrInvalidWIF       = errors.New("invalid WIF private key")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

type PublicKey [PublicKeySize]byte

var ZeroPublicKey PublicKey

func (p PublicKey) String() string {
	checksum := ripemd(p[:])
	return PublicKeyPrefix + base58.Encode(append(p[:], checksum[:4]...))
}

func (p PublicKey) Equal(another PublicKey) bool {
	return p == another
}

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PublicKey) UnmarshalText(text []byte) error {
	key, err := PublicKeyFromString(string(text))
	if err != nil {
		return err
	}
	*p = key
	return nil
}

// PublicKeyFromString parses STM-prefixed keys. Other network prefixes of
// three upper case letters (TST) are accepted as long as the checksum holds.
func PublicKeyFromString(s string) (PublicKey, error) {
	var key PublicKey
	if len(s) < 4 {
		return key, ErrInvalidPublicKey
	}
	prefix := s[:3]
	if strings.ToUpper(prefix) != prefix {
		return key, ErrInvalidPublicKey
	}
	data := base58.Decode(s[3:])
	if len(data) != PublicKeySize+4 {
		return key, ErrInvalidPublicKey
	}
	checksum := ripemd(data[:PublicKeySize])
	if !bytes.Equal(checksum[:4], data[PublicKeySize:]) {
		return key, ErrInvalidPublicKey
	}
	if _, err := ethcrypto.DecompressPubkey(data[:PublicKeySize]); err != nil {
		return key, ErrInvalidPublicKey
	}
	copy(key[:], data[:PublicKeySize])
	return key, nil
}

func publicKeyFromECDSA(pub *ecdsa.PublicKey) PublicKey {
	var key PublicKey
	copy(key[:], ethcrypto.CompressPubkey(pub))
	return key
}

// SecretKey is a chain signing key.
type SecretKey struct {
	key *ecdsa.PrivateKey
}

func GenerateSecretKey() (SecretKey, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return SecretKey{}, err
	}
	return SecretKey{key: key}, nil
}

// SecretKeyFromBytes takes the 32 byte scalar.
func SecretKeyFromBytes(data []byte) (SecretKey, error) {
	key, err := ethcrypto.ToECDSA(data)
	if err != nil {
		return SecretKey{}, ErrInvalidWIF
	}
	return SecretKey{key: key}, nil
}

func SecretKeyFromWIF(wif string) (SecretKey, error) {
	data := base58.Decode(strings.TrimSpace(wif))
	if len(data) != 1+32+4 || data[0] != wifVersion {
		return SecretKey{}, ErrInvalidWIF
	}
	checksum := doubleSha(data[:33])
	if !bytes.Equal(checksum[:4], data[33:]) {
		return SecretKey{}, ErrInvalidWIF
	}
	return SecretKeyFromBytes(data[1:33])
}

func (s SecretKey) IsZero() bool {
	return s.key == nil
}

func (s SecretKey) Bytes() []byte {
	if s.key == nil {
		return nil
	}
	return ethcrypto.FromECDSA(s.key)
}

func (s SecretKey) WIF() string {
	data := append([]byte{wifVersion}, s.Bytes()...)
	checksum := doubleSha(data)
	return base58.Encode(append(data, checksum[:4]...))
}

func (s SecretKey) PublicKey() PublicKey {
	if s.key == nil {
		return ZeroPublicKey
	}
	return publicKeyFromECDSA(&s.key.PublicKey)
}

// Sign produces a compact recoverable signature of a 32 byte digest.
func (s SecretKey) Sign(digest Hash) (RecoverableSignature, error) {
	var signature RecoverableSignature
	if s.key == nil {
		return signature, ErrInvalidWIF
	}
	sig, err := ethcrypto.Sign(digest[:], s.key)
	if err != nil {
		return signature, err
	}
	// go-ethereum returns r || s || v, the chain expects header || r || s
	signature[0] = sig[64] + compactCompressedOffset
	copy(signature[1:], sig[:64])
	return signature, nil
}

func ripemd(data []byte) []byte {
	hasher := ripemd160.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

func doubleSha(data []byte) Hash {
	first := sha256.Sum256(data)
	return Hash(sha256.Sum256(first[:]))
}
