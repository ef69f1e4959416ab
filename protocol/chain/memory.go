package chain

import (
	"context"
	"sort"
	"sync"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
)

// Memory is a chain held in memory. It checks authority the way a node does:
// signatures are recovered against the transaction digest and every required
// authority must be satisfied, a higher level standing in for a lower one.
type Memory struct {
	mu       sync.RWMutex
	chainID  crypto.Hash
	accounts map[string]*authority.Account
}

func NewMemory(chainID crypto.Hash) *Memory {
	return &Memory{chainID: chainID, accounts: make(map[string]*authority.Account)}
}

func (m *Memory) ChainID() crypto.Hash {
	return m.chainID
}

func (m *Memory) AddAccount(account *authority.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Name] = account
}

func (m *Memory) GetAccount(ctx context.Context, name string) (*authority.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[name]
	if !ok {
		return nil, ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

// levels that can stand in for a required level
func satisfyingLevels(level authority.Level) []authority.Level {
	switch level {
	case authority.Posting:
		return []authority.Level{authority.Posting, authority.Active, authority.Owner}
	case authority.Active:
		return []authority.Level{authority.Active, authority.Owner}
	}
	return []authority.Level{level}
}

func (m *Memory) VerifyAuthority(ctx context.Context, tx *protocol.Transaction, pack protocol.PackType) (bool, error) {
	if err := tx.Validate(); err != nil {
		return false, nil
	}
	signatures, err := tx.RecoverableSignatures()
	if err != nil || len(signatures) == 0 {
		return false, nil
	}
	digest := tx.Digest(m.chainID, pack)
	signed := make([]authority.SignedKey, 0, len(signatures))
	for _, signature := range signatures {
		key, err := signature.Recover(digest)
		if err != nil {
			return false, nil
		}
		signed = append(signed, authority.SignedKey{Key: key, Valid: true})
	}
	for _, required := range tx.RequiredAuthorities() {
		account, err := m.GetAccount(ctx, required.Account)
		if err != nil {
			return false, nil
		}
		satisfied := false
		for _, level := range satisfyingLevels(required.Level) {
			auth, _ := account.Authority(level)
			ok, err := authority.Evaluate(ctx, auth, signed, m, level)
			if err != nil {
				return false, err
			}
			if ok {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false, nil
		}
	}
	return true, nil
}

func (m *Memory) GetKeyReferences(ctx context.Context, keys []crypto.PublicKey) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	references := make([][]string, len(keys))
	for n, key := range keys {
		references[n] = make([]string, 0)
		for name, account := range m.accounts {
			for _, level := range account.LevelsForKey(key) {
				if level != authority.Memo {
					references[n] = append(references[n], name)
					break
				}
			}
		}
		sort.Strings(references[n])
	}
	return references, nil
}
