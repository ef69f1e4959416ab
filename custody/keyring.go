package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/util"
)

const (
	entryAdd byte = iota + 1
	entryRemove
)

var (
	ErrUnknownKey    = errors.New("no key held for user and level")
	ErrWrongPassword = errors.New("wrong password")
)

type keyID struct {
	username string
	keyType  authority.Level
}

// sealedKey is a WIF sealed with a cipher derived from the user's password.
type sealedKey struct {
	salt   []byte
	sealed []byte
}

// Keyring keeps users' keys in a secure vault. Each key is sealed a second
// time under its own user password, so the daemon operator cannot sign
// without the user unlocking the key.
type Keyring struct {
	mu    sync.Mutex
	vault *util.SecureVault
	keys  map[keyID]sealedKey
}

func NewKeyring(vault *util.SecureVault) (*Keyring, error) {
	k := &Keyring{vault: vault, keys: make(map[keyID]sealedKey)}
	for n, entry := range vault.Entries {
		if err := k.apply(entry); err != nil {
			return nil, fmt.Errorf("vault entry %d: %w", n, err)
		}
	}
	return k, nil
}

func (k *Keyring) apply(entry []byte) error {
	op, position := util.ParseByte(entry, 0)
	var username, keyType string
	username, position = util.ParseString(entry, position)
	keyType, position = util.ParseString(entry, position)
	id := keyID{username: username, keyType: authority.Level(keyType)}
	switch op {
	case entryRemove:
		if position != len(entry) {
			return util.ErrVaultCorrupted
		}
		delete(k.keys, id)
	case entryAdd:
		var key sealedKey
		key.salt, position = util.ParseByteArray(entry, position)
		key.sealed, position = util.ParseByteArray(entry, position)
		if position != len(entry) {
			return util.ErrVaultCorrupted
		}
		k.keys[id] = key
	default:
		return util.ErrVaultCorrupted
	}
	return nil
}

// Add stores wif for username at keyType, replacing any previous key.
func (k *Keyring) Add(username string, keyType authority.Level, password, wif string) error {
	if _, err := crypto.SecretKeyFromWIF(wif); err != nil {
		return err
	}
	salt := crypto.Nonce()
	cipher, err := crypto.CipherFromPassword([]byte(password), salt)
	if err != nil {
		return err
	}
	entry := []byte{entryAdd}
	util.PutString(username, &entry)
	util.PutString(string(keyType), &entry)
	util.PutByteArray(salt, &entry)
	util.PutByteArray(cipher.Seal([]byte(wif)), &entry)
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.vault.NewEntry(entry); err != nil {
		return err
	}
	return k.apply(entry)
}

func (k *Keyring) Remove(username string, keyType authority.Level) error {
	entry := []byte{entryRemove}
	util.PutString(username, &entry)
	util.PutString(string(keyType), &entry)
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[keyID{username, keyType}]; !ok {
		return ErrUnknownKey
	}
	if err := k.vault.NewEntry(entry); err != nil {
		return err
	}
	return k.apply(entry)
}

// Unlock opens the key with the user's password.
func (k *Keyring) Unlock(username string, keyType authority.Level, password string) (crypto.SecretKey, error) {
	k.mu.Lock()
	key, ok := k.keys[keyID{username, keyType}]
	k.mu.Unlock()
	if !ok {
		return crypto.SecretKey{}, ErrUnknownKey
	}
	cipher, err := crypto.CipherFromPassword([]byte(password), key.salt)
	if err != nil {
		return crypto.SecretKey{}, err
	}
	wif, err := cipher.Open(key.sealed)
	if err != nil {
		return crypto.SecretKey{}, ErrWrongPassword
	}
	return crypto.SecretKeyFromWIF(string(wif))
}

func (k *Keyring) Has(username string, keyType authority.Level) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.keys[keyID{username, keyType}]
	return ok
}
