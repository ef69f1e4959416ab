// Package config loads and checks the configuration files of the signon
// binaries. Files are JSON, or YAML when the name ends in .yaml or .yml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/socket"
	"gopkg.in/yaml.v3"
)

type Configurable interface {
	Check() error
}

func LoadConfig[T Configurable](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open configuration file: %v", err)
	}
	var config T
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("could not parse configuration file: %v", err)
	}
	if err := config.Check(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}
	return &config, nil
}

// ServerConfig configures the verification gateway.
type ServerConfig struct {
	// Address the gateway listens on, host:port
	Address string `json:"address" yaml:"address"`
	// ChainEndpoint is the JSON-RPC url of a chain node
	ChainEndpoint string `json:"chainEndpoint" yaml:"chainEndpoint"`
	// ChainID in hex, empty for mainnet
	ChainID string `json:"chainID" yaml:"chainID"`
	// Pack is hf26 or legacy
	Pack string `json:"pack" yaml:"pack"`
	// JournalPath should be empty for a memory journal of consumed
	// challenges OR a file path so replays are refused across restarts.
	JournalPath string `json:"journalPath" yaml:"journalPath"`
	// ChallengeTTL in seconds
	ChallengeTTL int `json:"challengeTTL" yaml:"challengeTTL"`
	// SessionKey in hex authenticates session cookies. Empty generates a
	// key at start, which logs every user out on restart.
	SessionKey    string `json:"sessionKey" yaml:"sessionKey"`
	SecureCookies bool   `json:"secureCookies" yaml:"secureCookies"`
}

// ClientConfig configures the signon login client.
type ClientConfig struct {
	// Gateway url for server mode. Empty verifies locally against
	// ChainEndpoint.
	Gateway       string `json:"gateway" yaml:"gateway"`
	ChainEndpoint string `json:"chainEndpoint" yaml:"chainEndpoint"`
	Username      string `json:"username" yaml:"username"`
	LoginType     string `json:"loginType" yaml:"loginType"`
	KeyType       string `json:"keyType" yaml:"keyType"`
	// Pack is hf26 or legacy
	Pack string `json:"pack" yaml:"pack"`
	// VaultPath keeps unlocked keys in a password sealed file instead of
	// memory.
	VaultPath string `json:"vaultPath" yaml:"vaultPath"`
	// HostedEndpoint is the hosted signer api.
	HostedEndpoint string      `json:"hostedEndpoint" yaml:"hostedEndpoint"`
	Custody        *PeerConfig `json:"custody" yaml:"custody"`
	// SessionPath keeps the logged in user and the gateway cookies between
	// runs. Empty uses signon/session under the user config directory.
	SessionPath string `json:"sessionPath" yaml:"sessionPath"`
	// KeyTTL in seconds a cached key stays usable. Zero means
	// DefaultKeyTTL.
	KeyTTL int `json:"keyTTL" yaml:"keyTTL"`
}

// DefaultKeyTTL bounds cached keys when the client configuration sets none.
const DefaultKeyTTL = 12 * time.Hour

// KeyLifetime is KeyTTL as a duration.
func (c ClientConfig) KeyLifetime() time.Duration {
	if c.KeyTTL == 0 {
		return DefaultKeyTTL
	}
	return time.Duration(c.KeyTTL) * time.Second
}

// PeerConfig is a signed socket peer.
type PeerConfig struct {
	Address string `json:"address" yaml:"address"`
	Token   string `json:"token" yaml:"token"`
}

// CustodyConfig configures the custody daemon.
type CustodyConfig struct {
	Port      int    `json:"port" yaml:"port"`
	VaultPath string `json:"vaultPath" yaml:"vaultPath"`
	// SessionTTL in seconds an unlocked key stays usable
	SessionTTL int            `json:"sessionTTL" yaml:"sessionTTL"`
	Firewall   FirewallConfig `json:"firewall" yaml:"firewall"`
}

type FirewallConfig struct {
	Open bool `json:"open" yaml:"open"`
	// Whitelist is a list of tokens that are allowed to connect
	Whitelist []string `json:"whitelist" yaml:"whitelist"`
}

func FirewallToValidConnections(f FirewallConfig) socket.ValidateConnection {
	if f.Open {
		return socket.AcceptAllConnections
	}
	tokens := make([]crypto.Token, 0)
	for _, tokenStr := range f.Whitelist {
		token := crypto.TokenFromString(tokenStr)
		if token != crypto.ZeroToken {
			tokens = append(tokens, token)
		}
	}
	return socket.NewValidConnections(tokens)
}
