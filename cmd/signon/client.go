package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/config"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/custody"
	"github.com/freehandle/signon/login"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/protocol/chain"
	"github.com/freehandle/signon/signer"
	"golang.org/x/term"
)

type client struct {
	cfg        *config.ClientConfig
	controller *login.Controller
	sessions   *login.FileSessions
	remote     *login.Remote
	node       *chain.RPCClient
	vault      *signer.VaultStore
	custody    *signer.OnlineClient[signer.CustodyService]
}

func newClient(cfg *config.ClientConfig) (*client, error) {
	c := &client{cfg: cfg}
	pack, _ := protocol.ParsePackType(cfg.Pack)
	deps := signer.Dependencies{Prompter: signer.NewTerminalPrompter(), KeyTTL: cfg.KeyLifetime()}
	storage := signer.StorageMemory
	if cfg.ChainEndpoint != "" {
		c.node = chain.NewRPCClient(cfg.ChainEndpoint)
		deps.Chain = c.node
	}
	if cfg.VaultPath != "" {
		fmt.Fprint(os.Stderr, "key vault password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, err
		}
		if c.vault, err = signer.OpenVaultStore(password, cfg.VaultPath); err != nil {
			return nil, err
		}
		deps.Store = c.vault
		storage = signer.StorageVault
	} else {
		deps.Store = signer.NewMemoryStore()
	}
	if cfg.Custody != nil {
		key, err := crypto.LoadCredentials(credentials)
		if err != nil {
			return nil, err
		}
		c.custody = signer.NewOnlineClient(custody.Dialer(cfg.Custody.Address, key, crypto.TokenFromString(cfg.Custody.Token)))
		deps.Custody = c.custody
	}
	if cfg.HostedEndpoint != "" {
		deps.Hosted = &signer.HTTPHostedAPI{Endpoint: cfg.HostedEndpoint}
	}
	if accessToken != "" {
		key := signer.StoreKey{Username: cfg.Username, KeyType: authority.Level(cfg.KeyType), Backend: signer.LoginHiveSigner}
		if err := deps.Store.Put(key, signer.Entry{Secret: []byte(accessToken)}); err != nil {
			return nil, err
		}
	}

	var err error
	if c.sessions, err = openSessions(cfg); err != nil {
		return nil, err
	}
	c.controller = &login.Controller{
		Keys:    deps.Store,
		ChainID: protocol.MainnetChainID,
		Pack:    pack,
		NewSigner: func(opts signer.Options) (signer.Signer, error) {
			opts.StorageType = storage
			return signer.New(opts, deps)
		},
		Sessions: c.sessions,
	}
	if cfg.Gateway != "" {
		if c.remote, err = newRemote(cfg, c.sessions); err != nil {
			return nil, err
		}
		c.controller.Challenges, c.controller.Backend = c.remote, c.remote
	} else {
		issuer := challenge.NewIssuer(nil, 0)
		c.controller.Challenges = login.IssuerChallenges{Issuer: issuer}
		c.controller.Backend = login.LocalBackend{
			Verifier: login.NewVerifier(c.node, protocol.MainnetChainID, pack),
			Issuer:   issuer,
		}
	}
	return c, nil
}

// openSessions opens the session file shared by login, session and logout.
func openSessions(cfg *config.ClientConfig) (*login.FileSessions, error) {
	path := cfg.SessionPath
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "signon", "session")
	}
	return login.OpenFileSessions(path)
}

func newRemote(cfg *config.ClientConfig, sessions *login.FileSessions) (*login.Remote, error) {
	jar, err := sessions.Jar(cfg.Gateway)
	if err != nil {
		return nil, err
	}
	return login.NewRemoteWithJar(cfg.Gateway, jar), nil
}

func agent() string {
	hostname, _ := os.Hostname()
	return hostname
}

func (c *client) form(useOperation bool) login.LoginForm {
	return login.LoginForm{
		Agent:        agent(),
		Username:     c.cfg.Username,
		LoginType:    signer.LoginType(c.cfg.LoginType),
		KeyType:      authority.Level(c.cfg.KeyType),
		UseOperation: useOperation,
		APIEndpoint:  c.cfg.HostedEndpoint,
	}
}

func (c *client) Close() {
	if c.custody != nil {
		c.custody.Reset()
	}
	if c.vault != nil {
		c.vault.Close()
	}
	if c.node != nil {
		c.node.Close()
	}
}
