package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
)

// Transport identities. Custody daemons and their clients authenticate the
// socket with ed25519 tokens; chain keys live in keys.go.

const (
	TokenSize      = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
	NonceSize      = 32
)

type Token [TokenSize]byte

type PrivateKey [PrivateKeySize]byte

type Signature [SignatureSize]byte

var ZeroToken Token
var ZeroPrivateKey PrivateKey

func (t Token) Equal(another Token) bool {
	return t == another
}

func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

func (t Token) Verify(msg []byte, signature Signature) bool {
	return ed25519.Verify(t[:], msg, signature[:])
}

// TokenFromString parses a hex token. Invalid input yields ZeroToken.
func TokenFromString(s string) Token {
	var token Token
	bytes, err := hex.DecodeString(s)
	if err != nil || len(bytes) != TokenSize {
		return ZeroToken
	}
	copy(token[:], bytes)
	return token
}

func (p PrivateKey) PublicKey() Token {
	var token Token
	copy(token[:], p[32:])
	return token
}

func (p PrivateKey) Sign(msg []byte) Signature {
	var signature Signature
	copy(signature[:], ed25519.Sign(p[:], msg))
	return signature
}

func PrivateKeyFromSeed(seed [32]byte) PrivateKey {
	var key PrivateKey
	copy(key[:], ed25519.NewKeyFromSeed(seed[:]))
	return key
}

// IsValidPrivateKey checks that data is an ed25519 key whose public half
// matches its seed.
func IsValidPrivateKey(data []byte) bool {
	if len(data) != PrivateKeySize {
		return false
	}
	var seed [32]byte
	copy(seed[:], data[:32])
	derived := PrivateKeyFromSeed(seed)
	return derived == PrivateKey(data)
}

func RandomAsymetricKey() (Token, PrivateKey) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic("could not generate key: " + err.Error())
	}
	var token Token
	var key PrivateKey
	copy(token[:], public)
	copy(key[:], private)
	return token, key
}

func Nonce() []byte {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		panic("could not read random nonce: " + err.Error())
	}
	return nonce
}
