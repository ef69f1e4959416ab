package challenge

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/freehandle/signon/crypto"
)

const DefaultTTL = 10 * time.Minute

var (
	ErrReplayedChallenge = errors.New("login challenge already used")
	ErrUnknownChallenge  = errors.New("login challenge unknown or expired")
)

// Issuer hands out login challenges and lets each be consumed once.
type Issuer struct {
	mu          sync.Mutex
	ttl         time.Duration
	outstanding map[string]time.Time
	journal     *Journal
	now         func() time.Time
}

func NewIssuer(journal *Journal, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Issuer{
		ttl:         ttl,
		outstanding: make(map[string]time.Time),
		journal:     journal,
		now:         time.Now,
	}
}

// Issue returns a fresh 32 byte token, hex encoded.
func (i *Issuer) Issue() (string, error) {
	token := hex.EncodeToString(crypto.Nonce())
	i.mu.Lock()
	defer i.mu.Unlock()
	i.prune()
	i.outstanding[token] = i.now().Add(i.ttl)
	return token, nil
}

// Check reports whether token could be consumed now, without consuming it.
func (i *Issuer) Check(token string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.check(token)
}

func (i *Issuer) check(token string) error {
	if token == "" {
		return ErrEmptyChallenge
	}
	if i.journal.Consumed(token) {
		return ErrReplayedChallenge
	}
	expires, ok := i.outstanding[token]
	if !ok || !expires.After(i.now()) {
		return ErrUnknownChallenge
	}
	return nil
}

// Consume invalidates token. It succeeds once per issued token.
func (i *Issuer) Consume(token string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.check(token); err != nil {
		if errors.Is(err, ErrReplayedChallenge) {
			slog.Warn("replayed login challenge", "challenge", crypto.Hasher([]byte(token)))
		}
		return err
	}
	expires := i.outstanding[token]
	delete(i.outstanding, token)
	i.journal.Record(token, expires)
	return nil
}

func (i *Issuer) prune() {
	now := i.now()
	for token, expires := range i.outstanding {
		if !expires.After(now) {
			delete(i.outstanding, token)
		}
	}
}
