package authority

import (
	"context"
	"log/slog"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/util"
)

// MaxDepth bounds account_auths recursion as the chain does.
const MaxDepth = 2

// SignedKey is a key recovered from a signature together with the outcome of
// checking that signature.
type SignedKey struct {
	Key   crypto.PublicKey
	Valid bool
}

type Configuration int

const (
	Unsatisfiable Configuration = iota
	SingleKey
	Weighted
)

func (c Configuration) String() string {
	switch c {
	case SingleKey:
		return "single key"
	case Weighted:
		return "weighted"
	}
	return "unsatisfiable"
}

// AccountLookup resolves the accounts named in account_auths.
type AccountLookup interface {
	GetAccount(ctx context.Context, name string) (*Account, error)
}

// Classify tells apart the threshold one single key case from everything
// else. An authority that cannot reach its threshold even with every listed
// weight is unsatisfiable, and so is a zero threshold.
func Classify(auth Authority) Configuration {
	if auth.IsEmpty() || auth.WeightThreshold == 0 {
		return Unsatisfiable
	}
	var total uint64
	for _, key := range auth.KeyAuths {
		total += uint64(key.Weight)
	}
	for _, account := range auth.AccountAuths {
		total += uint64(account.Weight)
	}
	if total < uint64(auth.WeightThreshold) {
		return Unsatisfiable
	}
	if auth.WeightThreshold == 1 && len(auth.KeyAuths) == 1 && len(auth.AccountAuths) == 0 && auth.KeyAuths[0].Weight == 1 {
		return SingleKey
	}
	return Weighted
}

func validKeys(signed []SignedKey) util.Set[crypto.PublicKey] {
	keys := make(util.Set[crypto.PublicKey])
	for _, s := range signed {
		if s.Valid {
			keys.Add(s.Key)
		}
	}
	return keys
}

// keyWeight sums the weights of listed keys with a valid signature. Each
// listed key counts once.
func keyWeight(auth Authority, keys util.Set[crypto.PublicKey]) uint64 {
	var weight uint64
	counted := make(util.Set[crypto.PublicKey])
	for _, key := range auth.KeyAuths {
		if keys.Has(key.Key) && !counted.Has(key.Key) {
			weight += uint64(key.Weight)
			counted.Add(key.Key)
		}
	}
	return weight
}

// Satisfies evaluates an authority made of keys only. It refuses any
// authority with account_auths since those need a lookup; see Evaluate.
func Satisfies(auth Authority, signed []SignedKey) bool {
	switch Classify(auth) {
	case Unsatisfiable:
		return false
	case SingleKey:
		keys := validKeys(signed)
		return keys.Has(auth.KeyAuths[0].Key)
	}
	if len(auth.AccountAuths) > 0 {
		return false
	}
	return keyWeight(auth, validKeys(signed)) >= uint64(auth.WeightThreshold)
}

// Evaluate is the full weighted check. Satisfied account_auths contribute
// their weight; the sub account is evaluated at active for owner and active
// authorities and at posting for posting ones, at most MaxDepth levels down.
// An account reached twice along the same path contributes nothing.
func Evaluate(ctx context.Context, auth Authority, signed []SignedKey, lookup AccountLookup, level Level) (bool, error) {
	config := Classify(auth)
	switch config {
	case Unsatisfiable:
		return false, nil
	case SingleKey:
		return Satisfies(auth, signed), nil
	}
	slog.Warn("evaluating weighted authority", "threshold", auth.WeightThreshold, "keys", len(auth.KeyAuths), "accounts", len(auth.AccountAuths), "level", level)
	return evaluate(ctx, auth, validKeys(signed), lookup, recursionLevel(level), 0, make(util.Set[string]))
}

func recursionLevel(level Level) Level {
	if level == Posting {
		return Posting
	}
	return Active
}

func evaluate(ctx context.Context, auth Authority, keys util.Set[crypto.PublicKey], lookup AccountLookup, level Level, depth int, visited util.Set[string]) (bool, error) {
	if Classify(auth) == Unsatisfiable {
		return false, nil
	}
	threshold := uint64(auth.WeightThreshold)
	weight := keyWeight(auth, keys)
	if weight >= threshold {
		return true, nil
	}
	if depth >= MaxDepth || len(auth.AccountAuths) == 0 {
		return false, nil
	}
	if lookup == nil {
		return false, nil
	}
	for _, sub := range auth.AccountAuths {
		if visited.Has(sub.Account) {
			continue
		}
		account, err := lookup.GetAccount(ctx, sub.Account)
		if err != nil {
			return false, err
		}
		subAuth, _ := account.Authority(level)
		path := visited.Clone()
		path.Add(sub.Account)
		ok, err := evaluate(ctx, subAuth, keys, lookup, level, depth+1, path)
		if err != nil {
			return false, err
		}
		if ok {
			weight += uint64(sub.Weight)
			if weight >= threshold {
				return true, nil
			}
		}
	}
	return false, nil
}
