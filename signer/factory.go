package signer

import (
	"fmt"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/protocol/chain"
)

// Dependencies are the collaborators backends draw on. Each backend needs
// only some of them.
type Dependencies struct {
	Store     KeyStore
	Prompter  Prompter
	Chain     chain.Client
	Custody   *OnlineClient[CustodyService]
	Extension Extension
	Hosted    HostedAPI
	// KeyTTL bounds how long an unlocked key stays cached; zero keeps it
	// until logout.
	KeyTTL time.Duration
}

// New builds the backend selected by opts.LoginType.
func New(opts Options, deps Dependencies) (Signer, error) {
	const op = "new signer"
	missing := func(field string) error {
		return newError(KindConfiguration, op, fmt.Errorf("%w: %s", ErrMissingOption, field))
	}
	if opts.Username == "" {
		return nil, missing("username")
	}
	if _, err := authority.ParseLevel(string(opts.KeyType)); err != nil {
		return nil, newError(KindConfiguration, op, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, opts.KeyType))
	}
	if opts.ChainID == crypto.ZeroValueHash {
		opts.ChainID = protocol.MainnetChainID
	}
	if opts.StorageType == "" {
		opts.StorageType = StorageMemory
	}
	store := deps.Store
	switch opts.StorageType {
	case StorageMemory:
		if store == nil {
			store = NewMemoryStore()
		}
	case StorageVault:
		if _, ok := store.(*VaultStore); !ok {
			return nil, missing("vault key store")
		}
	default:
		return nil, newError(KindConfiguration, op, fmt.Errorf("unknown storage type %q", opts.StorageType))
	}

	switch opts.LoginType {
	case LoginWIF:
		if deps.Chain == nil {
			return nil, missing("chain client")
		}
		if deps.Prompter == nil {
			return nil, missing("prompter")
		}
		return &LocalSigner{opts: opts, store: store, prompter: deps.Prompter, chain: deps.Chain, ttl: deps.KeyTTL}, nil
	case LoginHiveAuth:
		if err := checkKeyType(op, opts.KeyType, authority.Posting, authority.Active); err != nil {
			return nil, err
		}
		if deps.Custody == nil {
			return nil, missing("custody service")
		}
		if deps.Prompter == nil {
			return nil, missing("prompter")
		}
		return &CustodySigner{opts: opts, online: deps.Custody, prompter: deps.Prompter}, nil
	case LoginKeychain:
		return &ExtensionSigner{opts: opts, extension: deps.Extension}, nil
	case LoginHiveSigner:
		api := deps.Hosted
		if api == nil {
			if opts.APIEndpoint == "" {
				return nil, missing("api endpoint")
			}
			api = &HTTPHostedAPI{Endpoint: opts.APIEndpoint}
		}
		return &HostedSigner{opts: opts, store: store, api: api}, nil
	}
	return nil, newError(KindConfiguration, op, fmt.Errorf("%w: %q", ErrUnsupportedLoginType, opts.LoginType))
}

var (
	_ Signer = (*LocalSigner)(nil)
	_ Signer = (*CustodySigner)(nil)
	_ Signer = (*ExtensionSigner)(nil)
	_ Signer = (*HostedSigner)(nil)
)
