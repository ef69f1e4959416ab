package crypto

import (
	"encoding/hex"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const RecoverableSignatureSize = 65

// header byte = recovery id + 27, plus 4 for compressed public keys
const (
	compactOffset           = 27
	compactCompressedOffset = 31
)

var ErrInvalidSignature = errors.New("invalid signature")

// RecoverableSignature is the chain's compact signature: one header byte
// carrying the recovery id followed by r and s.
type RecoverableSignature [RecoverableSignatureSize]byte

var ZeroRecoverableSignature RecoverableSignature

func (r RecoverableSignature) String() string {
	return hex.EncodeToString(r[:])
}

func (r RecoverableSignature) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RecoverableSignature) UnmarshalText(text []byte) error {
	signature, err := SignatureFromHex(string(text))
	if err != nil {
		return err
	}
	*r = signature
	return nil
}

func SignatureFromHex(text string) (RecoverableSignature, error) {
	var signature RecoverableSignature
	data, err := hex.DecodeString(text)
	if err != nil || len(data) != RecoverableSignatureSize {
		return signature, ErrInvalidSignature
	}
	copy(signature[:], data)
	return signature, nil
}

func (r RecoverableSignature) recoveryID() (byte, error) {
	header := r[0]
	switch {
	case header >= compactCompressedOffset && header < compactCompressedOffset+4:
		return header - compactCompressedOffset, nil
	case header >= compactOffset && header < compactOffset+4:
		return header - compactOffset, nil
	}
	return 0, ErrInvalidSignature
}

// Recover returns the public key that produced the signature over digest.
func (r RecoverableSignature) Recover(digest Hash) (PublicKey, error) {
	recid, err := r.recoveryID()
	if err != nil {
		return ZeroPublicKey, err
	}
	if recid > 1 {
		return ZeroPublicKey, ErrInvalidSignature
	}
	sig := make([]byte, RecoverableSignatureSize)
	copy(sig, r[1:])
	sig[64] = recid
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return ZeroPublicKey, ErrInvalidSignature
	}
	return publicKeyFromECDSA(pub), nil
}

// Verify checks the signature against a known key. High-s signatures are
// rejected.
func (r RecoverableSignature) Verify(key PublicKey, digest Hash) bool {
	if !ethcrypto.VerifySignature(key[:], digest[:], r[1:]) {
		return false
	}
	recovered, err := r.Recover(digest)
	return err == nil && recovered.Equal(key)
}
