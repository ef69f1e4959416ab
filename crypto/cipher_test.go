package crypto

import (
	"bytes"
	"testing"
)

func TestCipherSealOpen(t *testing.T) {
	cipher, err := CipherFromPassword([]byte("correct horse"), []byte("salt"))
	if err != nil {
		t.Fatal(err)
	}
	sealed := cipher.Seal([]byte("5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dNYuTVq9FBy5hmZJ"))
	naked, err := cipher.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(naked, []byte("5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dNYuTVq9FBy5hmZJ")) {
		t.Error("opened data does not match sealed data")
	}
	other, _ := CipherFromPassword([]byte("wrong horse"), []byte("salt"))
	if _, err := other.Open(sealed); err != ErrCouldNotOpen {
		t.Errorf("expected ErrCouldNotOpen, got %v", err)
	}
}

func TestTransportTokenSignVerify(t *testing.T) {
	token, key := RandomAsymetricKey()
	if !key.PublicKey().Equal(token) {
		t.Fatal("public key does not match token")
	}
	nonce := Nonce()
	signature := key.Sign(nonce)
	if !token.Verify(nonce, signature) {
		t.Error("signature over nonce does not verify")
	}
	if !IsValidPrivateKey(key[:]) {
		t.Error("generated key reported invalid")
	}
	if TokenFromString(token.String()) != token {
		t.Error("token string round trip failed")
	}
	pem := EncodePEMPrivateKey(key)
	parsed, err := ParsePEMPrivateKey(pem)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != key {
		t.Error("PEM round trip failed")
	}
}
