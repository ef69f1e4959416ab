// Package chain is the boundary to the chain node: account lookup, the
// node's own authority check and the key to account reverse index.
package chain

import (
	"context"
	"errors"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
)

var ErrAccountNotFound = errors.New("account not found")

type Client interface {
	GetAccount(ctx context.Context, name string) (*authority.Account, error)
	// VerifyAuthority reports whether the signatures on tx satisfy every
	// authority its operations require. An invalid signature set is false
	// with a nil error; errors are reserved for failures to ask.
	VerifyAuthority(ctx context.Context, tx *protocol.Transaction, pack protocol.PackType) (bool, error)
	// GetKeyReferences returns, for each key in order, the accounts whose
	// owner, active or posting authority lists it.
	GetKeyReferences(ctx context.Context, keys []crypto.PublicKey) ([][]string, error)
}
