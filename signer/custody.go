package signer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
)

// CustodyService holds users' keys and signs on their behalf once unlocked.
// Authenticate returns ErrNotAuthorized for a wrong password.
type CustodyService interface {
	IsAuthorized(ctx context.Context, username string, keyType authority.Level) (bool, error)
	Authenticate(ctx context.Context, username string, keyType authority.Level, password string) error
	SignDigest(ctx context.Context, username string, keyType authority.Level, digest crypto.Hash) (crypto.RecoverableSignature, error)
	Logout(ctx context.Context, username string, keyType authority.Level) error
}

const logoutTimeout = 5 * time.Second

// CustodySigner delegates signing to a custody service. Only posting and
// active keys can be held by the service.
type CustodySigner struct {
	lifecycle
	opts     Options
	online   *OnlineClient[CustodyService]
	prompter Prompter
}

func (s *CustodySigner) Options() Options { return s.opts }

func (s *CustodySigner) Capabilities() Capabilities {
	return Capabilities{SupportsTransactionSigning: true}
}

func (s *CustodySigner) SignChallenge(ctx context.Context, req ChallengeRequest) (string, error) {
	const op = "sign challenge"
	if err := checkKeyType(op, s.opts.KeyType, authority.Posting, authority.Active); err != nil {
		return "", err
	}
	if len(req.Message) == 0 {
		return "", newError(KindConfiguration, op, challenge.ErrEmptyChallenge)
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		return s.sign(ctx, op, crypto.Hasher(req.Message), req.Password)
	})
}

func (s *CustodySigner) SignTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	const op = "sign transaction"
	if err := checkKeyType(op, s.opts.KeyType, authority.Posting, authority.Active); err != nil {
		return "", err
	}
	if err := checkDigest(op, s.opts, req); err != nil {
		return "", err
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		return s.sign(ctx, op, req.Digest, req.Password)
	})
}

func (s *CustodySigner) sign(ctx context.Context, op string, digest crypto.Hash, password string) (string, error) {
	service, err := s.online.Get(ctx)
	if err != nil {
		return "", err
	}
	if err := s.authorize(ctx, op, service, password); err != nil {
		return "", err
	}
	signature, err := service.SignDigest(ctx, s.opts.Username, s.opts.KeyType, digest)
	if err != nil {
		return "", s.serviceError(op, err)
	}
	return signature.String(), nil
}

// authorize skips the prompt while the service session is warm.
func (s *CustodySigner) authorize(ctx context.Context, op string, service CustodyService, password string) error {
	authorized, err := service.IsAuthorized(ctx, s.opts.Username, s.opts.KeyType)
	if err != nil {
		return s.serviceError(op, err)
	}
	if authorized {
		return nil
	}
	if password != "" {
		if err := service.Authenticate(ctx, s.opts.Username, s.opts.KeyType, password); err != nil {
			return s.serviceError(op, err)
		}
		return nil
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
			return promptError(op, err)
		}
		err = service.Authenticate(ctx, s.opts.Username, s.opts.KeyType, result.Password)
		if errors.Is(err, ErrNotAuthorized) {
			retry = true
			continue
		}
		if err != nil {
			return s.serviceError(op, err)
		}
		return nil
	}
	return newError(KindAuthentication, op, ErrNotAuthorized)
}

// serviceError keeps kinds set by the service client. Anything else means
// the service could not be used and the connection is dropped.
func (s *CustodySigner) serviceError(op string, err error) error {
	if errors.Is(err, ErrNotAuthorized) {
		return Wrap(KindAuthentication, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, op, err)
	}
	if kind, ok := KindOf(err); ok && kind != KindBackendUnavailable {
		return err
	}
	s.online.Reset()
	return Wrap(KindBackendUnavailable, op, err)
}

// Destroy logs the user out of the custody service.
func (s *CustodySigner) Destroy() {
	if !s.destroy() {
		return
	}
	service, ok := s.online.Peek()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := service.Logout(ctx, s.opts.Username, s.opts.KeyType); err != nil {
		slog.Warn("custody logout failed", "username", s.opts.Username, "keyType", s.opts.KeyType, "error", err)
	}
}
