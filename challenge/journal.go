package challenge

import (
	"sync"
	"time"

	"github.com/freehandle/papirus"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/util"
	"github.com/pkg/errors"
)

// journal records are sha256(token) followed by the expiry in unix seconds
const recordSize = crypto.Size + 8

// Journal remembers consumed challenges in an append only byte store so a
// restart does not reopen them. Only the hash of a token is written.
type Journal struct {
	mu       sync.Mutex
	store    papirus.ByteStore
	consumed map[crypto.Hash]time.Time
	now      func() time.Time
}

// NewMemoryJournal keeps records in memory only.
func NewMemoryJournal() *Journal {
	return openJournal(papirus.NewMemoryStore(0))
}

// OpenFileJournal opens the journal at path, creating it when missing.
func OpenFileJournal(path string) (*Journal, error) {
	store := papirus.OpenFileStore(path)
	if store == nil {
		store = papirus.NewFileStore(path, 0)
	}
	if store == nil {
		return nil, errors.Errorf("could not open journal file %s", path)
	}
	return openJournal(store), nil
}

func openJournal(store papirus.ByteStore) *Journal {
	j := &Journal{
		store:    store,
		consumed: make(map[crypto.Hash]time.Time),
		now:      time.Now,
	}
	j.load()
	return j
}

func (j *Journal) load() {
	now := j.now()
	size := j.store.Size()
	for offset := int64(0); offset+recordSize <= size; offset += recordSize {
		data := j.store.ReadAt(offset, recordSize)
		hash, position := util.ParseHash(data, 0)
		seconds, _ := util.ParseUint64(data, position)
		if hash == crypto.ZeroValueHash && seconds == 0 {
			break
		}
		expires := time.Unix(int64(seconds), 0)
		if expires.After(now) {
			j.consumed[hash] = expires
		}
	}
}

// Record marks token consumed until expires.
func (j *Journal) Record(token string, expires time.Time) {
	hash := crypto.Hasher([]byte(token))
	data := make([]byte, 0, recordSize)
	util.PutHash(hash, &data)
	util.PutUint64(uint64(expires.Unix()), &data)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.consumed[hash] = expires
	j.store.Append(data)
}

// Consumed reports whether token was recorded and has not yet expired.
func (j *Journal) Consumed(token string) bool {
	hash := crypto.Hasher([]byte(token))
	j.mu.Lock()
	defer j.mu.Unlock()
	expires, ok := j.consumed[hash]
	if !ok {
		return false
	}
	if !expires.After(j.now()) {
		delete(j.consumed, hash)
		return false
	}
	return true
}

func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.store.Close()
}
