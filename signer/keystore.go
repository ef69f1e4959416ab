package signer

import (
	"sync"
	"time"

	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/util"
)

// StoreKey identifies a cached secret.
type StoreKey struct {
	Username string
	KeyType  authority.Level
	Backend  LoginType
}

// Entry is a cached secret. A zero ExpiresAt never expires.
type Entry struct {
	Secret    []byte
	ExpiresAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}

// KeyStore caches unlocked secrets. Get checks expiry and drops stale
// entries.
type KeyStore interface {
	Get(key StoreKey) (Entry, bool)
	Put(key StoreKey, entry Entry) error
	Delete(key StoreKey) error
	DeleteUser(username string) error
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[StoreKey]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[StoreKey]Entry), now: time.Now}
}

func (m *MemoryStore) Get(key StoreKey) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return Entry{}, false
	}
	return entry, true
}

func (m *MemoryStore) Put(key StoreKey, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *MemoryStore) Delete(key StoreKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) DeleteUser(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if key.Username == username {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// VaultStore persists entries in a password sealed vault. Every change is a
// new vault entry; deletions are tombstones and the last entry for a key wins
// on reopen.
type VaultStore struct {
	memory *MemoryStore
	vault  *util.SecureVault
}

const (
	vaultPut byte = iota
	vaultDelete
)

type vaultRecord struct {
	op    byte
	key   StoreKey
	entry Entry
}

func (r vaultRecord) serialize() []byte {
	data := []byte{r.op}
	util.PutString(r.key.Username, &data)
	util.PutString(string(r.key.KeyType), &data)
	util.PutString(string(r.key.Backend), &data)
	util.PutByteArray(r.entry.Secret, &data)
	util.PutTime(r.entry.ExpiresAt, &data)
	return data
}

func parseVaultRecord(data []byte) *vaultRecord {
	if len(data) == 0 || data[0] > vaultDelete {
		return nil
	}
	record := vaultRecord{op: data[0]}
	position := 1
	var keyType, backend string
	record.key.Username, position = util.ParseString(data, position)
	keyType, position = util.ParseString(data, position)
	backend, position = util.ParseString(data, position)
	var secret []byte
	secret, position = util.ParseByteArray(data, position)
	record.entry.ExpiresAt, position = util.ParseTime(data, position)
	if position != len(data) {
		return nil
	}
	record.key.KeyType = authority.Level(keyType)
	record.key.Backend = LoginType(backend)
	record.entry.Secret = append([]byte{}, secret...)
	return &record
}

// NewVaultStore loads the entries of an open vault.
func NewVaultStore(vault *util.SecureVault) *VaultStore {
	store := &VaultStore{memory: NewMemoryStore(), vault: vault}
	for _, data := range vault.Entries {
		record := parseVaultRecord(data)
		if record == nil {
			continue
		}
		if record.op == vaultDelete {
			store.memory.Delete(record.key)
		} else {
			store.memory.Put(record.key, record.entry)
		}
	}
	return store
}

// OpenVaultStore opens or creates the vault file at path.
func OpenVaultStore(password []byte, path string) (*VaultStore, error) {
	vault, err := util.OpenOrCreateVault(password, path)
	if err != nil {
		return nil, err
	}
	return NewVaultStore(vault), nil
}

func (v *VaultStore) Get(key StoreKey) (Entry, bool) {
	return v.memory.Get(key)
}

func (v *VaultStore) Put(key StoreKey, entry Entry) error {
	record := vaultRecord{op: vaultPut, key: key, entry: entry}
	if err := v.vault.NewEntry(record.serialize()); err != nil {
		return err
	}
	return v.memory.Put(key, entry)
}

func (v *VaultStore) Delete(key StoreKey) error {
	if _, ok := v.memory.Get(key); !ok {
		return nil
	}
	record := vaultRecord{op: vaultDelete, key: key}
	if err := v.vault.NewEntry(record.serialize()); err != nil {
		return err
	}
	return v.memory.Delete(key)
}

func (v *VaultStore) DeleteUser(username string) error {
	v.memory.mu.Lock()
	keys := make([]StoreKey, 0)
	for key := range v.memory.entries {
		if key.Username == username {
			keys = append(keys, key)
		}
	}
	v.memory.mu.Unlock()
	for _, key := range keys {
		if err := v.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (v *VaultStore) Close() error {
	return v.vault.Close()
}
