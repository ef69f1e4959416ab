package signer

import (
	"errors"
	"fmt"
)

// Kind classifies signer failures. Callers branch on the kind, never on the
// message.
type Kind int

const (
	// KindConfiguration is fatal and never retried: missing options, an
	// unsupported key type, an operation the backend cannot perform.
	KindConfiguration Kind = iota + 1
	// KindAuthentication is recoverable by asking for the secret again.
	KindAuthentication
	// KindDigestMismatch means the caller asked to sign bytes other than the
	// transaction it showed.
	KindDigestMismatch
	// KindBackendUnavailable is recoverable by user action, such as
	// installing the extension or starting the custody service.
	KindBackendUnavailable
	KindReplayedChallenge
	// KindCancelled covers a dismissed prompt, a superseded login and a
	// signer destroyed mid flight.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindDigestMismatch:
		return "digest mismatch"
	case KindBackendUnavailable:
		return "backend unavailable"
	case KindReplayedChallenge:
		return "replayed challenge"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

var (
	ErrDestroyed             = errors.New("signer destroyed")
	ErrPromptCancelled       = errors.New("prompt cancelled")
	ErrUnsupportedKeyType    = errors.New("unsupported keyType")
	ErrUnsupportedLoginType  = errors.New("unsupported loginType")
	ErrMissingOption         = errors.New("missing required signer option")
	ErrMissingTransaction    = errors.New("transaction missing from signing request")
	ErrDigestMismatch        = errors.New("digest does not match transaction")
	ErrExtensionNotInstalled = errors.New("browser extension not installed")
	ErrRedirectRequired      = errors.New("hosted signer requires an interactive redirect")
	ErrMissingAccessToken    = errors.New("hosted signer access token missing")
	ErrInvalidKey            = errors.New("key does not hold the requested authority")
	ErrNotAuthorized         = errors.New("custody service refused authentication")
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k})
// works for any failure of kind k.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Err == nil || errors.Is(e.Err, t.Err)) && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap gives err a kind unless it already carries one.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(kind, op, err)
}

// KindOf returns the kind of the first *Error in the chain of err.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
