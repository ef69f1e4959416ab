// Package challenge builds the digests a login signs and issues the single
// use tokens they carry.
package challenge

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
)

var (
	ErrEmptyChallenge     = errors.New("login challenge is empty")
	ErrUnsupportedKeyType = errors.New("unsupported keyType for login")
)

// LoginExpiration is the fixed expiration of login transactions. They are
// never broadcast; a constant keeps their digest reproducible.
var LoginExpiration = time.Unix(3600, 0).UTC()

// LoginAmount is moved by the active level login transfer, from the user to
// the user.
const LoginAmount = "0.001 HIVE"

type loginMessage struct {
	Token string `json:"token"`
}

// LoginMessage is the JSON text {"token":"..."} without HTML escaping, byte
// for byte what a browser's JSON.stringify produces.
func LoginMessage(token string) ([]byte, error) {
	if token == "" {
		return nil, ErrEmptyChallenge
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(loginMessage{Token: token}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

// BuildLoginDigest is sha256 of the login message.
func BuildLoginDigest(token string) (crypto.Hash, error) {
	message, err := LoginMessage(token)
	if err != nil {
		return crypto.ZeroValueHash, err
	}
	return crypto.Hasher(message), nil
}

// BuildLoginTransaction embeds the challenge in a throwaway operation: a zero
// weight self vote for posting, a self transfer for active.
func BuildLoginTransaction(username string, level authority.Level, token string) (*protocol.Transaction, error) {
	if token == "" {
		return nil, ErrEmptyChallenge
	}
	var op protocol.Operation
	switch level {
	case authority.Posting:
		op = &protocol.Vote{Voter: username, Author: username, Permlink: token, Weight: 0}
	case authority.Active:
		op = &protocol.Transfer{From: username, To: username, Amount: protocol.MustParseAsset(LoginAmount), Memo: token}
	default:
		return nil, ErrUnsupportedKeyType
	}
	return &protocol.Transaction{
		Expiration: LoginExpiration,
		Operations: []protocol.Operation{op},
	}, nil
}

func BuildOperationDigest(username string, level authority.Level, token string, chainID crypto.Hash, pack protocol.PackType) (crypto.Hash, error) {
	tx, err := BuildLoginTransaction(username, level, token)
	if err != nil {
		return crypto.ZeroValueHash, err
	}
	return protocol.Digest(tx, chainID, pack), nil
}

func BuildTransactionDigest(tx *protocol.Transaction, chainID crypto.Hash, pack protocol.PackType) crypto.Hash {
	return protocol.Digest(tx, chainID, pack)
}

// TokenFromTransaction reads the challenge back out of a login transaction.
// It returns false when tx is not one of the two login shapes for username.
func TokenFromTransaction(tx *protocol.Transaction, username string) (string, authority.Level, bool) {
	if tx == nil || len(tx.Operations) != 1 {
		return "", "", false
	}
	switch op := tx.Operations[0].(type) {
	case *protocol.Vote:
		if op.Voter == username && op.Author == username && op.Weight == 0 {
			return op.Permlink, authority.Posting, true
		}
	case *protocol.Transfer:
		if op.From == username && op.To == username && op.Amount.String() == LoginAmount {
			return op.Memo, authority.Active, true
		}
	}
	return "", "", false
}
