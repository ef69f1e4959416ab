package login

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/protocol/chain"
	"github.com/freehandle/signon/signer"
)

// VerifyRequest asks whether Transaction is signed by Username at Level.
// Digest, when set, is the digest the client reports having signed.
type VerifyRequest struct {
	Transaction *protocol.Transaction
	Digest      *crypto.Hash
	Username    string
	Level       authority.Level
	Strict      bool
	Pack        protocol.PackType
}

type Verifier struct {
	Chain   chain.Client
	ChainID crypto.Hash
	// Pack is the layout login transactions are checked in.
	Pack protocol.PackType
}

func NewVerifier(client chain.Client, chainID crypto.Hash, pack protocol.PackType) *Verifier {
	if chainID == crypto.ZeroValueHash {
		chainID = protocol.MainnetChainID
	}
	return &Verifier{Chain: client, ChainID: chainID, Pack: pack}
}

// Verify checks the signatures on a transaction. The chain decides whether
// they are valid for the authorities the transaction requires. Strict
// verification further demands that a recovered key is listed directly by
// the expected account at the expected level, so a key shared with or
// delegated from another account does not pass.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) (bool, error) {
	const op = "verify"
	if req.Transaction == nil {
		return false, signer.Wrap(signer.KindConfiguration, op, signer.ErrMissingTransaction)
	}
	digest := challenge.BuildTransactionDigest(req.Transaction, v.ChainID, req.Pack)
	if req.Digest != nil && *req.Digest != digest {
		slog.Error("reported digest does not match transaction", "username", req.Username, "reported", *req.Digest, "computed", digest)
		return false, signer.Wrap(signer.KindDigestMismatch, op, signer.ErrDigestMismatch)
	}
	if err := req.Transaction.Validate(); err != nil {
		return false, signer.Wrap(signer.KindConfiguration, op, err)
	}
	if len(req.Transaction.Signatures) == 0 {
		return false, nil
	}
	valid, err := v.Chain.VerifyAuthority(ctx, req.Transaction, req.Pack)
	if err != nil {
		return false, signer.Wrap(signer.KindBackendUnavailable, op, err)
	}
	if !valid || !req.Strict {
		return valid, nil
	}
	signatures, err := req.Transaction.RecoverableSignatures()
	if err != nil {
		return false, nil
	}
	keys := make([]crypto.PublicKey, 0, len(signatures))
	for _, signature := range signatures {
		key, err := signature.Recover(digest)
		if err != nil {
			return false, nil
		}
		keys = append(keys, key)
	}
	return v.strict(ctx, op, req.Username, req.Level, keys)
}

// strict walks the recovered keys back to their accounts and evaluates the
// expected account's own authority with the keys it lists.
func (v *Verifier) strict(ctx context.Context, op, username string, level authority.Level, keys []crypto.PublicKey) (bool, error) {
	references, err := v.Chain.GetKeyReferences(ctx, keys)
	if err != nil {
		return false, signer.Wrap(signer.KindBackendUnavailable, op, err)
	}
	account, err := v.account(ctx, op, username)
	if err != nil {
		return false, err
	}
	auth, ok := account.Authority(level)
	if !ok {
		return false, signer.Wrap(signer.KindConfiguration, op, challenge.ErrUnsupportedKeyType)
	}
	listed := make([]authority.SignedKey, 0, len(keys))
	for n, key := range keys {
		if n < len(references) && slices.Contains(references[n], username) && auth.Lists(key) {
			listed = append(listed, authority.SignedKey{Key: key, Valid: true})
		}
	}
	if len(listed) == 0 {
		slog.Info("strict verification: no key listed by account", "username", username, "level", level)
		return false, nil
	}
	if authority.Classify(auth) == authority.Weighted {
		slog.Warn("evaluating weighted authority", "username", username, "level", level)
	}
	ok, err = authority.Evaluate(ctx, auth, listed, v.Chain, level)
	if err != nil {
		return false, signer.Wrap(signer.KindBackendUnavailable, op, err)
	}
	return ok, nil
}

func (v *Verifier) account(ctx context.Context, op, username string) (*authority.Account, error) {
	account, err := v.Chain.GetAccount(ctx, username)
	if errors.Is(err, chain.ErrAccountNotFound) {
		return nil, signer.Wrap(signer.KindAuthentication, op, err)
	}
	if err != nil {
		return nil, signer.Wrap(signer.KindBackendUnavailable, op, err)
	}
	return account, nil
}

// VerifyLogin checks credentials signed over token and returns the user they
// log in. Verification is always strict.
func (v *Verifier) VerifyLogin(ctx context.Context, creds Credentials, token string) (*User, error) {
	const op = "verify login"
	if token == "" {
		return nil, signer.Wrap(signer.KindAuthentication, op, ErrChallengeMissing)
	}
	if creds.KeyType != authority.Posting && creds.KeyType != authority.Active {
		return nil, signer.Wrap(signer.KindConfiguration, op, challenge.ErrUnsupportedKeyType)
	}
	text := creds.Signatures[creds.KeyType]
	if text == "" {
		return nil, signer.Wrap(signer.KindAuthentication, op, ErrMissingSignature)
	}
	signature, err := crypto.SignatureFromHex(text)
	if err != nil {
		return nil, signer.Wrap(signer.KindAuthentication, op, err)
	}
	account, err := v.account(ctx, op, creds.Username)
	if err != nil {
		return nil, err
	}
	var ok bool
	if creds.TxJSON != "" {
		ok, err = v.verifyOperation(ctx, creds, token, signature)
	} else {
		ok, err = v.verifyMessage(ctx, op, creds, token, signature)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, signer.Wrap(signer.KindAuthentication, op, ErrInvalidAuthority)
	}
	return &User{
		IsLoggedIn: true,
		Username:   account.Name,
		AvatarURL:  AvatarURL(account),
		LoginType:  creds.LoginType,
		KeyType:    creds.KeyType,
	}, nil
}

func (v *Verifier) verifyMessage(ctx context.Context, op string, creds Credentials, token string, signature crypto.RecoverableSignature) (bool, error) {
	digest, err := challenge.BuildLoginDigest(token)
	if err != nil {
		return false, signer.Wrap(signer.KindAuthentication, op, err)
	}
	key, err := signature.Recover(digest)
	if err != nil {
		return false, nil
	}
	return v.strict(ctx, op, creds.Username, creds.KeyType, []crypto.PublicKey{key})
}

// verifyOperation rebuilds the login transaction from the server's own
// challenge. The client's transaction only has to agree with it.
func (v *Verifier) verifyOperation(ctx context.Context, creds Credentials, token string, signature crypto.RecoverableSignature) (bool, error) {
	const op = "verify login"
	submitted, err := protocol.ParseTransaction([]byte(creds.TxJSON))
	if err != nil {
		return false, signer.Wrap(signer.KindConfiguration, op, err)
	}
	carried, level, ok := challenge.TokenFromTransaction(submitted, creds.Username)
	if !ok || carried != token || level != creds.KeyType {
		return false, signer.Wrap(signer.KindAuthentication, op, ErrWrongChallenge)
	}
	tx, err := challenge.BuildLoginTransaction(creds.Username, creds.KeyType, token)
	if err != nil {
		return false, signer.Wrap(signer.KindConfiguration, op, err)
	}
	tx.Signatures = []string{signature.String()}
	return v.Verify(ctx, VerifyRequest{
		Transaction: tx,
		Username:    creds.Username,
		Level:       creds.KeyType,
		Strict:      true,
		Pack:        v.Pack,
	})
}
