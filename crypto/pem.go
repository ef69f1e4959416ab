package crypto

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"os"
)

var ErrPrivateKeyParse = errors.New("could not parse private key")

var oidKeyEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}

// pkcs8 reflects an ASN.1, PKCS #8 PrivateKey.
type pkcs8 struct {
	Version    int
	Algo       pkix.AlgorithmIdentifier
	PrivateKey []byte
}

// ParsePEMPrivateKey reads an ed25519 transport key in the PKCS #8 PEM form
// written by openssl genpkey -algorithm ed25519.
func ParsePEMPrivateKey(data []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PRIVATE KEY" {
		return ZeroPrivateKey, ErrPrivateKeyParse
	}
	var key pkcs8
	if _, err := asn1.Unmarshal(block.Bytes, &key); err != nil {
		return ZeroPrivateKey, ErrPrivateKeyParse
	}
	if !key.Algo.Algorithm.Equal(oidKeyEd25519) {
		return ZeroPrivateKey, ErrPrivateKeyParse
	}
	var bytes []byte
	if _, err := asn1.Unmarshal(key.PrivateKey, &bytes); err != nil || len(bytes) != 32 {
		return ZeroPrivateKey, ErrPrivateKeyParse
	}
	var seed [32]byte
	copy(seed[:], bytes)
	return PrivateKeyFromSeed(seed), nil
}

// EncodePEMPrivateKey is the inverse of ParsePEMPrivateKey.
func EncodePEMPrivateKey(key PrivateKey) []byte {
	seed, _ := asn1.Marshal(key[:32])
	der, _ := asn1.Marshal(pkcs8{
		Version:    0,
		Algo:       pkix.AlgorithmIdentifier{Algorithm: oidKeyEd25519},
		PrivateKey: seed,
	})
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// LoadCredentials reads a PEM transport key from disk. An empty path yields
// a random ephemeral key.
func LoadCredentials(path string) (PrivateKey, error) {
	if path == "" {
		_, key := RandomAsymetricKey()
		return key, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ZeroPrivateKey, err
	}
	return ParsePEMPrivateKey(data)
}
