package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/protocol/chain"
)

const maxPromptAttempts = 3

// LocalSigner signs with a private key the user types in (WIF). A key is
// checked against the account's on chain authority before it is used or
// cached.
type LocalSigner struct {
	lifecycle
	opts     Options
	store    KeyStore
	prompter Prompter
	chain    chain.Client
	ttl      time.Duration

	mu       sync.Mutex
	unlocked crypto.SecretKey
}

func (s *LocalSigner) Options() Options { return s.opts }

func (s *LocalSigner) Capabilities() Capabilities {
	return Capabilities{SupportsTransactionSigning: true}
}

func (s *LocalSigner) SignChallenge(ctx context.Context, req ChallengeRequest) (string, error) {
	const op = "sign challenge"
	if len(req.Message) == 0 {
		return "", newError(KindConfiguration, op, challenge.ErrEmptyChallenge)
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		key, err := s.unlock(ctx, op, req.Password)
		if err != nil {
			return "", err
		}
		return sign(op, key, crypto.Hasher(req.Message))
	})
}

func (s *LocalSigner) SignTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	const op = "sign transaction"
	if err := checkDigest(op, s.opts, req); err != nil {
		return "", err
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		key, err := s.unlock(ctx, op, req.Password)
		if err != nil {
			return "", err
		}
		return sign(op, key, req.Digest)
	})
}

func sign(op string, key crypto.SecretKey, digest crypto.Hash) (string, error) {
	signature, err := key.Sign(digest)
	if err != nil {
		return "", newError(KindAuthentication, op, err)
	}
	return signature.String(), nil
}

// Destroy forgets the unlocked key. Cached entries stay in the store.
func (s *LocalSigner) Destroy() {
	if s.destroy() {
		s.mu.Lock()
		s.unlocked = crypto.SecretKey{}
		s.mu.Unlock()
	}
}

func (s *LocalSigner) unlock(ctx context.Context, op, password string) (crypto.SecretKey, error) {
	s.mu.Lock()
	key := s.unlocked
	s.mu.Unlock()
	if !key.IsZero() {
		return key, nil
	}
	if entry, ok := s.store.Get(s.opts.storeKey()); ok {
		if key, err := crypto.SecretKeyFromWIF(string(entry.Secret)); err == nil {
			s.keep(key)
			return key, nil
		}
		s.store.Delete(s.opts.storeKey())
	}
	if password != "" {
		key, err := s.verify(ctx, op, password)
		if err != nil {
			return key, err
		}
		s.keep(key)
		return key, nil
	}
	retry := false
	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		result, err := s.prompter.PromptForSecret(ctx, PromptOptions{
			Username:  s.opts.Username,
			KeyType:   s.opts.KeyType,
			LoginType: s.opts.LoginType,
			Retry:     retry,
		})
		if err != nil {
			return crypto.SecretKey{}, promptError(op, err)
		}
		key, err := s.verify(ctx, op, result.Password)
		if IsKind(err, KindAuthentication) {
			retry = true
			continue
		}
		if err != nil {
			return key, err
		}
		if result.StorePassword {
			entry := Entry{Secret: []byte(key.WIF())}
			if s.ttl > 0 {
				entry.ExpiresAt = time.Now().Add(s.ttl)
			}
			if err := s.store.Put(s.opts.storeKey(), entry); err != nil {
				slog.Warn("could not cache unlocked key", "username", s.opts.Username, "keyType", s.opts.KeyType, "error", err)
			}
		}
		s.keep(key)
		return key, nil
	}
	return crypto.SecretKey{}, newError(KindAuthentication, op, ErrInvalidKey)
}

func (s *LocalSigner) keep(key crypto.SecretKey) {
	s.mu.Lock()
	s.unlocked = key
	s.mu.Unlock()
}

func promptError(op string, err error) error {
	if errors.Is(err, ErrPromptCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindCancelled, op, err)
	}
	return newError(KindAuthentication, op, err)
}

// verify parses the secret and proves it holds the account's authority at
// the key type: the public key must be listed, and for posting and active a
// throwaway transaction signed with it must pass the chain's own check.
func (s *LocalSigner) verify(ctx context.Context, op, secret string) (crypto.SecretKey, error) {
	key, err := crypto.SecretKeyFromWIF(secret)
	if err != nil {
		return crypto.SecretKey{}, newError(KindAuthentication, op, err)
	}
	account, err := s.chain.GetAccount(ctx, s.opts.Username)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return crypto.SecretKey{}, newError(KindAuthentication, op, err)
	}
	if err != nil {
		return crypto.SecretKey{}, newError(KindBackendUnavailable, op, err)
	}
	public := key.PublicKey()
	if s.opts.KeyType == authority.Memo {
		if !account.MemoKey.Equal(public) {
			return crypto.SecretKey{}, newError(KindAuthentication, op, ErrInvalidKey)
		}
		return key, nil
	}
	auth, _ := account.Authority(s.opts.KeyType)
	if !auth.Lists(public) {
		return crypto.SecretKey{}, newError(KindAuthentication, op, fmt.Errorf("%w: %s not in %s authority", ErrInvalidKey, public, s.opts.KeyType))
	}
	if s.opts.KeyType == authority.Owner {
		return key, nil
	}
	tx, err := challenge.BuildLoginTransaction(s.opts.Username, s.opts.KeyType, hex.EncodeToString(crypto.Nonce()))
	if err != nil {
		return crypto.SecretKey{}, newError(KindConfiguration, op, err)
	}
	if _, err := tx.Sign(key, s.opts.ChainID, s.opts.Pack); err != nil {
		return crypto.SecretKey{}, newError(KindAuthentication, op, err)
	}
	valid, err := s.chain.VerifyAuthority(ctx, tx, s.opts.Pack)
	if err != nil {
		return crypto.SecretKey{}, newError(KindBackendUnavailable, op, err)
	}
	if !valid {
		return crypto.SecretKey{}, newError(KindAuthentication, op, ErrInvalidKey)
	}
	return key, nil
}
