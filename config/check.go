package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/signer"
)

func (c ServerConfig) Check() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("Address %v", err)
	}
	if err := isValidURL(c.ChainEndpoint, "ChainEndpoint"); err != nil {
		return err
	}
	if c.ChainID != "" {
		if _, err := crypto.HashFromHex(c.ChainID); err != nil {
			return fmt.Errorf("ChainID must be 32 bytes of hex")
		}
	}
	if _, err := protocol.ParsePackType(c.Pack); err != nil {
		return fmt.Errorf("Pack %v", err)
	}
	if c.JournalPath != "" {
		if err := IsValidDir(filepath.Dir(c.JournalPath), "journal"); err != nil {
			return err
		}
	}
	if c.ChallengeTTL < 0 {
		return errors.New("ChallengeTTL must not be negative")
	}
	if c.SessionKey != "" {
		key, err := hex.DecodeString(c.SessionKey)
		if err != nil || (len(key) != 32 && len(key) != 64) {
			return errors.New("SessionKey must be 32 or 64 bytes of hex")
		}
	}
	return nil
}

func (c ClientConfig) Check() error {
	if c.Username == "" {
		return errors.New("no username specified")
	}
	loginType, err := signer.ParseLoginType(c.LoginType)
	if err != nil {
		return fmt.Errorf("LoginType %v", err)
	}
	if _, err := authority.ParseLevel(c.KeyType); err != nil {
		return fmt.Errorf("KeyType %v", err)
	}
	if _, err := protocol.ParsePackType(c.Pack); err != nil {
		return fmt.Errorf("Pack %v", err)
	}
	if c.Gateway == "" && c.ChainEndpoint == "" {
		return errors.New("one of Gateway or ChainEndpoint must be specified")
	}
	if c.KeyTTL < 0 {
		return errors.New("KeyTTL must not be negative")
	}
	if c.Gateway != "" {
		if err := isValidURL(c.Gateway, "Gateway"); err != nil {
			return err
		}
	}
	if c.ChainEndpoint != "" {
		if err := isValidURL(c.ChainEndpoint, "ChainEndpoint"); err != nil {
			return err
		}
	}
	switch loginType {
	case signer.LoginHiveAuth:
		if c.Custody == nil {
			return errors.New("Custody must be specified for hiveauth login")
		}
		if err := c.Custody.Check(); err != nil {
			return fmt.Errorf("Custody %v", err)
		}
	case signer.LoginHiveSigner:
		if err := isValidURL(c.HostedEndpoint, "HostedEndpoint"); err != nil {
			return err
		}
	}
	return nil
}

func (c PeerConfig) Check() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("Address %v", err)
	}
	if crypto.TokenFromString(c.Token).Equal(crypto.ZeroToken) {
		return errors.New("invalid token")
	}
	return nil
}

func (c CustodyConfig) Check() error {
	if c.Port < 1024 || c.Port > 49151 {
		return fmt.Errorf("Port must be between 1024 and 49151")
	}
	if c.VaultPath == "" {
		return errors.New("no VaultPath specified")
	}
	if err := IsValidDir(filepath.Dir(c.VaultPath), "vault"); err != nil {
		return err
	}
	if c.SessionTTL < 0 {
		return errors.New("SessionTTL must not be negative")
	}
	if err := c.Firewall.Check(); err != nil {
		return fmt.Errorf("Firewall %v", err)
	}
	return nil
}

func (c FirewallConfig) Check() error {
	if c.Open && len(c.Whitelist) > 0 {
		return errors.New("cannot have both an open firewall and a whitelist")
	}
	for _, peer := range c.Whitelist {
		if crypto.TokenFromString(peer).Equal(crypto.ZeroToken) {
			return errors.New("invalid whitelist token")
		}
	}
	return nil
}

func isValidURL(value, scope string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http or https url", scope)
	}
	return nil
}

func IsValidDir(path, scope string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("invalid %s path: %v", scope, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s path is not a directory", scope)
	}
	return nil
}
