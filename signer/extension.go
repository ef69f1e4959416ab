package signer

import (
	"context"
	"errors"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
)

// Extension is a browser wallet extension. Installed is checked before any
// other call. A request the user declines returns ErrPromptCancelled.
type Extension interface {
	Installed() bool
	RequestSignBuffer(ctx context.Context, username string, message []byte, keyType authority.Level) (crypto.RecoverableSignature, error)
	RequestSignTx(ctx context.Context, username string, tx *protocol.Transaction, keyType authority.Level) (crypto.RecoverableSignature, error)
	RequestEncodeMessage(ctx context.Context, username, receiver, message string, keyType authority.Level) (string, error)
}

// ExtensionSigner routes signing through the extension's own primitives.
// The memo key is never used to sign; EncodeMemo is its only use.
type ExtensionSigner struct {
	lifecycle
	opts      Options
	extension Extension
}

func (s *ExtensionSigner) Options() Options { return s.opts }

func (s *ExtensionSigner) Capabilities() Capabilities {
	return Capabilities{SupportsTransactionSigning: true}
}

func (s *ExtensionSigner) installed(op string) error {
	if s.extension == nil || !s.extension.Installed() {
		return newError(KindBackendUnavailable, op, ErrExtensionNotInstalled)
	}
	return nil
}

func (s *ExtensionSigner) SignChallenge(ctx context.Context, req ChallengeRequest) (string, error) {
	const op = "sign challenge"
	if err := s.installed(op); err != nil {
		return "", err
	}
	if err := checkKeyType(op, s.opts.KeyType, authority.Posting, authority.Active, authority.Owner); err != nil {
		return "", err
	}
	if len(req.Message) == 0 {
		return "", newError(KindConfiguration, op, challenge.ErrEmptyChallenge)
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		signature, err := s.extension.RequestSignBuffer(ctx, s.opts.Username, req.Message, s.opts.KeyType)
		if err != nil {
			return "", extensionError(op, err)
		}
		return signature.String(), nil
	})
}

func (s *ExtensionSigner) SignTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	const op = "sign transaction"
	if err := checkDigest(op, s.opts, req); err != nil {
		return "", err
	}
	if err := s.installed(op); err != nil {
		return "", err
	}
	if err := checkKeyType(op, s.opts.KeyType, authority.Posting, authority.Active, authority.Owner); err != nil {
		return "", err
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		signature, err := s.extension.RequestSignTx(ctx, s.opts.Username, req.Transaction, s.opts.KeyType)
		if err != nil {
			return "", extensionError(op, err)
		}
		return signature.String(), nil
	})
}

// EncodeMemo encrypts message for receiver with the memo key.
func (s *ExtensionSigner) EncodeMemo(ctx context.Context, receiver, message string) (string, error) {
	const op = "encode memo"
	if err := s.installed(op); err != nil {
		return "", err
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		encoded, err := s.extension.RequestEncodeMessage(ctx, s.opts.Username, receiver, message, authority.Memo)
		if err != nil {
			return "", extensionError(op, err)
		}
		return encoded, nil
	})
}

func extensionError(op string, err error) error {
	if errors.Is(err, ErrPromptCancelled) || errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, op, err)
	}
	return Wrap(KindAuthentication, op, err)
}

func (s *ExtensionSigner) Destroy() {
	s.destroy()
}
