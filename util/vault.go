package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/freehandle/signon/crypto"
)

var ErrVaultCorrupted = errors.New("vault file seems corrupted")

// SecureVault is an append only file of sealed entries. The header carries
// the scrypt salt and a sealed ed25519 secret that identifies the vault owner
// on the network. A wrong password fails on the header.
type SecureVault struct {
	SecretKey crypto.PrivateKey
	Entries   [][]byte
	mu        sync.Mutex
	file      io.WriteCloser
	cipher    crypto.Cipher
}

func (s *SecureVault) NewEntry(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sealed := s.cipher.Seal(data)
	s.Entries = append(s.Entries, data)
	bytes := make([]byte, 0)
	PutByteArray(sealed, &bytes)
	if n, err := s.file.Write(bytes); n != len(bytes) || err != nil {
		return fmt.Errorf("could not write entry to secure vault file: %v", err)
	}
	return nil
}

func (s *SecureVault) Close() error {
	return s.file.Close()
}

func NewSecureVault(password []byte, fileName string) (*SecureVault, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not create secure vault file: %v", err)
	}
	data := make([]byte, 0)
	salt := crypto.Nonce()
	data = append(data, salt...)
	cipher, err := crypto.CipherFromPassword(password, salt)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("could not generate cipher key from password and salt: %v", err)
	}
	_, secret := crypto.RandomAsymetricKey()
	vault := SecureVault{
		SecretKey: secret,
		Entries:   make([][]byte, 0),
		file:      file,
		cipher:    cipher,
	}
	sealed := vault.cipher.Seal(secret[:])
	PutByteArray(sealed, &data)
	if n, err := file.Write(data); n != len(data) || err != nil {
		file.Close()
		return nil, fmt.Errorf("could not write header to secure vault file: %v", err)
	}
	return &vault, nil
}

func OpenVaultFromPassword(password []byte, fileName string) (*SecureVault, error) {
	file, err := os.OpenFile(fileName, os.O_APPEND|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not open secure vault: %v", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("could not read secure vault: %v", err)
	}
	vault, err := parseVault(password, data)
	if err != nil {
		file.Close()
		return nil, err
	}
	vault.file = file
	return vault, nil
}

// OpenOrCreateVault opens fileName when it exists and creates a new vault
// otherwise.
func OpenOrCreateVault(password []byte, fileName string) (*SecureVault, error) {
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		return NewSecureVault(password, fileName)
	}
	return OpenVaultFromPassword(password, fileName)
}

func parseVault(password, data []byte) (*SecureVault, error) {
	if len(data) < crypto.NonceSize {
		return nil, ErrVaultCorrupted
	}
	salt := data[:crypto.NonceSize]
	position := crypto.NonceSize
	cipher, err := crypto.CipherFromPassword(password, salt)
	if err != nil {
		return nil, fmt.Errorf("could not discover cipher key from password and salt: %v", err)
	}
	vault := SecureVault{Entries: make([][]byte, 0), cipher: cipher}
	items := make([][]byte, 0)
	for position < len(data) {
		var sealed []byte
		sealed, position = ParseByteArray(data, position)
		if position > len(data) {
			return nil, ErrVaultCorrupted
		}
		naked, err := vault.cipher.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("could not decrypt vault entry: %w", err)
		}
		items = append(items, naked)
	}
	if len(items) == 0 || !crypto.IsValidPrivateKey(items[0]) {
		return nil, ErrVaultCorrupted
	}
	copy(vault.SecretKey[:], items[0])
	vault.Entries = items[1:]
	return &vault, nil
}
