// Package login runs the challenge and response login: a Controller drives a
// signer over a server issued challenge and a Verifier checks the result
// against the account's authority on chain.
package login

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/signer"
)

var (
	ErrInvalidAuthority = errors.New("signature does not satisfy the account authority")
	ErrMissingSignature = errors.New("no signature for the requested key type")
	ErrChallengeMissing = errors.New("login challenge missing")
	ErrWrongChallenge   = errors.New("signed transaction does not carry the login challenge")
)

// User is the session a successful login establishes.
type User struct {
	IsLoggedIn bool             `json:"isLoggedIn"`
	Username   string           `json:"username"`
	AvatarURL  string           `json:"avatarUrl"`
	LoginType  signer.LoginType `json:"loginType"`
	KeyType    authority.Level  `json:"keyType"`
}

// Signatures maps a level to the hex signature made with its key. Levels that
// were not used are absent.
type Signatures map[authority.Level]string

// Credentials are what a client submits for verification. TxJSON carries the
// signed login transaction of the operation flow and is empty otherwise.
type Credentials struct {
	Username              string           `json:"username"`
	Signatures            Signatures       `json:"signatures"`
	LoginType             signer.LoginType `json:"loginType"`
	KeyType               authority.Level  `json:"keyType"`
	AuthenticateOnBackend bool             `json:"authenticateOnBackend"`
	TxJSON                string           `json:"txJSON,omitempty"`
}

// LoginForm is what the user chose on the login form.
type LoginForm struct {
	// Agent identifies the user agent; one login per agent runs at a time.
	Agent                 string
	Username              string
	LoginType             signer.LoginType
	KeyType               authority.Level
	Password              string
	UseOperation          bool
	AuthenticateOnBackend bool
	APIEndpoint           string
	StorageType           signer.StorageType
}

func (f LoginForm) options() signer.Options {
	return signer.Options{
		Username:    f.Username,
		LoginType:   f.LoginType,
		KeyType:     f.KeyType,
		APIEndpoint: f.APIEndpoint,
		StorageType: f.StorageType,
	}
}

const avatarURL = "https://images.hive.blog/u/%s/avatar"

// AvatarURL is the profile image of the account, or the image service
// default for username.
func AvatarURL(account *authority.Account) string {
	if image := account.Profile().ProfileImage; strings.HasPrefix(image, "https://") {
		return image
	}
	return fmt.Sprintf(avatarURL, account.Name)
}
