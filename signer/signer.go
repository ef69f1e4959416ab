// Package signer produces chain signatures for login challenges and
// transactions through interchangeable backends: a local key, a custody
// service, a browser extension and a hosted signer.
//
// A Signer is bound to one user and key type for its lifetime. It moves from
// constructed to idle, between idle and signing, and finally to destroyed;
// once destroyed every call fails and a sign still in flight is discarded.
package signer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
)

type LoginType string

const (
	LoginKeychain   LoginType = "keychain"
	LoginHiveAuth   LoginType = "hiveauth"
	LoginHiveSigner LoginType = "hivesigner"
	LoginWIF        LoginType = "wif"
)

func ParseLoginType(s string) (LoginType, error) {
	switch t := LoginType(s); t {
	case LoginKeychain, LoginHiveAuth, LoginHiveSigner, LoginWIF:
		return t, nil
	}
	return "", newError(KindConfiguration, "parse login type", fmt.Errorf("%w: %q", ErrUnsupportedLoginType, s))
}

type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageVault  StorageType = "vault"
)

type Options struct {
	Username    string
	LoginType   LoginType
	KeyType     authority.Level
	APIEndpoint string
	StorageType StorageType
	// ChainID and Pack fix the digest every transaction is signed over.
	ChainID crypto.Hash
	Pack    protocol.PackType
}

func (o Options) storeKey() StoreKey {
	return StoreKey{Username: o.Username, KeyType: o.KeyType, Backend: o.LoginType}
}

type Capabilities struct {
	SupportsTransactionSigning  bool
	RequiresInteractiveRedirect bool
}

// ChallengeRequest asks for a signature over sha256(Message). Password, when
// set, is used instead of prompting.
type ChallengeRequest struct {
	Message  []byte
	Password string
}

// TransactionRequest carries the digest the caller wants signed and the
// transaction it claims the digest is of. Backends refuse a mismatch before
// touching a key.
type TransactionRequest struct {
	Digest      crypto.Hash
	Transaction *protocol.Transaction
	Password    string
}

type Signer interface {
	SignChallenge(ctx context.Context, req ChallengeRequest) (string, error)
	SignTransaction(ctx context.Context, req TransactionRequest) (string, error)
	Capabilities() Capabilities
	Options() Options
	Destroy()
}

// checkDigest recomputes the digest of the request transaction.
func checkDigest(op string, opts Options, req TransactionRequest) error {
	if req.Transaction == nil {
		return newError(KindConfiguration, op, ErrMissingTransaction)
	}
	computed := protocol.Digest(req.Transaction, opts.ChainID, opts.Pack)
	if computed != req.Digest {
		slog.Error("refusing to sign: digest does not match transaction", "username", opts.Username, "loginType", opts.LoginType, "requested", req.Digest, "computed", computed)
		return newError(KindDigestMismatch, op, ErrDigestMismatch)
	}
	return nil
}

func checkKeyType(op string, keyType authority.Level, supported ...authority.Level) error {
	for _, level := range supported {
		if keyType == level {
			return nil
		}
	}
	return newError(KindConfiguration, op, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType))
}

// lifecycle tracks the signs in flight so Destroy can cancel them.
type lifecycle struct {
	mu        sync.Mutex
	destroyed bool
	next      int
	inflight  map[int]context.CancelFunc
}

func (l *lifecycle) begin(ctx context.Context, op string) (context.Context, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return nil, nil, newError(KindCancelled, op, ErrDestroyed)
	}
	if l.inflight == nil {
		l.inflight = make(map[int]context.CancelFunc)
	}
	ctx, cancel := context.WithCancel(ctx)
	id := l.next
	l.next++
	l.inflight[id] = cancel
	return ctx, func() {
		l.mu.Lock()
		delete(l.inflight, id)
		l.mu.Unlock()
		cancel()
	}, nil
}

// run executes one sign. A result that arrives after Destroy is dropped, and
// a failure caused by a cancelled context is reported as cancelled.
func (l *lifecycle) run(ctx context.Context, op string, sign func(context.Context) (string, error)) (string, error) {
	ctx, done, err := l.begin(ctx, op)
	if err != nil {
		return "", err
	}
	defer done()
	signature, err := sign(ctx)
	if l.isDestroyed() {
		return "", newError(KindCancelled, op, ErrDestroyed)
	}
	if err != nil {
		if ctx.Err() != nil {
			if _, ok := KindOf(err); !ok {
				return "", newError(KindCancelled, op, err)
			}
		}
		return "", err
	}
	return signature, nil
}

func (l *lifecycle) isDestroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// destroy cancels signs in flight and reports whether this call destroyed.
func (l *lifecycle) destroy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed {
		return false
	}
	l.destroyed = true
	for _, cancel := range l.inflight {
		cancel()
	}
	l.inflight = nil
	return true
}
