package login

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/protocol/chain"
	"github.com/freehandle/signon/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	chain   *chain.Memory
	alice   crypto.SecretKey
	mallory crypto.SecretKey
}

// alice lists mallory in her posting account_auths, so the chain accepts
// mallory's key for alice's posting authority.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	alice, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	mallory, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	memory := chain.NewMemory(protocol.MainnetChainID)
	posting := authority.KeyAuthority(alice.PublicKey())
	posting.AccountAuths = []authority.AccountWeight{{Account: "mallory", Weight: 1}}
	memory.AddAccount(&authority.Account{
		Name:    "alice",
		Owner:   authority.KeyAuthority(alice.PublicKey()),
		Active:  authority.KeyAuthority(alice.PublicKey()),
		Posting: posting,
		MemoKey: alice.PublicKey(),
	})
	memory.AddAccount(&authority.Account{
		Name:    "mallory",
		Owner:   authority.KeyAuthority(mallory.PublicKey()),
		Active:  authority.KeyAuthority(mallory.PublicKey()),
		Posting: authority.KeyAuthority(mallory.PublicKey()),
	})
	return &fixture{chain: memory, alice: alice, mallory: mallory}
}

type staticChallenge string

func (s staticChallenge) Challenge(ctx context.Context) (string, error) {
	return string(s), nil
}

func (f *fixture) controller(prompter signer.Prompter, store signer.KeyStore) *Controller {
	return &Controller{
		Challenges: staticChallenge("abc123"),
		Backend:    LocalBackend{Verifier: NewVerifier(f.chain, protocol.MainnetChainID, protocol.HF26)},
		Sessions:   NewMemorySessions(),
		Keys:       store,
		NewSigner: func(opts signer.Options) (signer.Signer, error) {
			return signer.New(opts, signer.Dependencies{Store: store, Prompter: prompter, Chain: f.chain})
		},
	}
}

func TestAliceStrictLogin(t *testing.T) {
	f := newFixture(t)
	store := signer.NewMemoryStore()
	c := f.controller(&signer.StaticPrompter{Result: signer.PromptResult{Password: f.alice.WIF(), StorePassword: true}}, store)

	for _, useOperation := range []bool{false, true} {
		user, err := c.Login(context.Background(), LoginForm{
			Agent:        "browser",
			Username:     "alice",
			LoginType:    signer.LoginWIF,
			KeyType:      authority.Posting,
			UseOperation: useOperation,
		})
		require.NoError(t, err)
		assert.Equal(t, &User{
			IsLoggedIn: true,
			Username:   "alice",
			AvatarURL:  "https://images.hive.blog/u/alice/avatar",
			LoginType:  signer.LoginWIF,
			KeyType:    authority.Posting,
		}, user)
		saved, ok := c.Sessions.Load("browser")
		require.True(t, ok)
		assert.Equal(t, user, saved)
	}

	require.NoError(t, c.Logout(context.Background(), "browser"))
	_, ok := c.Sessions.Load("browser")
	assert.False(t, ok)
	_, ok = store.Get(signer.StoreKey{Username: "alice", KeyType: authority.Posting, Backend: signer.LoginWIF})
	assert.False(t, ok, "logout drops cached keys")
}

func TestActiveOperationLogin(t *testing.T) {
	f := newFixture(t)
	c := f.controller(&signer.StaticPrompter{}, signer.NewMemoryStore())
	user, err := c.Login(context.Background(), LoginForm{
		Agent:        "browser",
		Username:     "alice",
		LoginType:    signer.LoginWIF,
		KeyType:      authority.Active,
		Password:     f.alice.WIF(),
		UseOperation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, authority.Active, user.KeyType)
}

func signedLogin(t *testing.T, key crypto.SecretKey, username string, level authority.Level, token string) *protocol.Transaction {
	t.Helper()
	tx, err := challenge.BuildLoginTransaction(username, level, token)
	require.NoError(t, err)
	_, err = tx.Sign(key, protocol.MainnetChainID, protocol.HF26)
	require.NoError(t, err)
	return tx
}

func TestForeignKeyRejectedByStrict(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.chain, protocol.MainnetChainID, protocol.HF26)
	tx := signedLogin(t, f.mallory, "alice", authority.Posting, "abc123")
	req := VerifyRequest{Transaction: tx, Username: "alice", Level: authority.Posting, Pack: protocol.HF26}

	ok, err := v.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ok, "the chain accepts mallory through alice's account_auths")

	req.Strict = true
	ok, err = v.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, ok)

	req.Transaction = signedLogin(t, f.alice, "alice", authority.Posting, "abc123")
	ok, err = v.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ok)
}

type countingChain struct {
	chain.Client
	calls atomic.Int32
}

func (c *countingChain) VerifyAuthority(ctx context.Context, tx *protocol.Transaction, pack protocol.PackType) (bool, error) {
	c.calls.Add(1)
	return c.Client.VerifyAuthority(ctx, tx, pack)
}

func TestReportedDigestMismatch(t *testing.T) {
	f := newFixture(t)
	counting := &countingChain{Client: f.chain}
	v := NewVerifier(counting, protocol.MainnetChainID, protocol.HF26)
	tx := signedLogin(t, f.alice, "alice", authority.Posting, "abc123")
	wrong := tx.Digest(protocol.MainnetChainID, protocol.Legacy)
	wrong[0] ^= 1

	ok, err := v.Verify(context.Background(), VerifyRequest{Transaction: tx, Digest: &wrong, Username: "alice", Level: authority.Posting, Strict: true})
	assert.False(t, ok)
	assert.True(t, signer.IsKind(err, signer.KindDigestMismatch))
	assert.Zero(t, counting.calls.Load())

	right := tx.Digest(protocol.MainnetChainID, protocol.HF26)
	ok, err = v.Verify(context.Background(), VerifyRequest{Transaction: tx, Digest: &right, Username: "alice", Level: authority.Posting, Strict: true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyUnsignedTransaction(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.chain, protocol.MainnetChainID, protocol.HF26)
	tx, err := challenge.BuildLoginTransaction("alice", authority.Posting, "abc123")
	require.NoError(t, err)
	ok, err := v.Verify(context.Background(), VerifyRequest{Transaction: tx, Username: "alice", Level: authority.Posting, Strict: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func plainCredentials(t *testing.T, key crypto.SecretKey, username, token string) Credentials {
	t.Helper()
	digest, err := challenge.BuildLoginDigest(token)
	require.NoError(t, err)
	signature, err := key.Sign(digest)
	require.NoError(t, err)
	return Credentials{
		Username:   username,
		Signatures: Signatures{authority.Posting: signature.String()},
		LoginType:  signer.LoginWIF,
		KeyType:    authority.Posting,
	}
}

func TestVerifyLogin(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.chain, protocol.MainnetChainID, protocol.HF26)
	ctx := context.Background()

	user, err := v.VerifyLogin(ctx, plainCredentials(t, f.alice, "alice", "abc123"), "abc123")
	require.NoError(t, err)
	assert.True(t, user.IsLoggedIn)

	tests := []struct {
		name  string
		creds Credentials
		token string
		kind  signer.Kind
	}{
		{"foreign key", plainCredentials(t, f.mallory, "alice", "abc123"), "abc123", signer.KindAuthentication},
		{"other challenge", plainCredentials(t, f.alice, "alice", "abc123"), "def456", signer.KindAuthentication},
		{"no challenge", plainCredentials(t, f.alice, "alice", "abc123"), "", signer.KindAuthentication},
		{"unknown account", plainCredentials(t, f.alice, "nobody", "abc123"), "abc123", signer.KindAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyLogin(ctx, tt.creds, tt.token)
			assert.True(t, signer.IsKind(err, tt.kind), "%v", err)
		})
	}

	_, err = v.VerifyLogin(ctx, plainCredentials(t, f.alice, "nobody", "abc123"), "abc123")
	assert.ErrorIs(t, err, chain.ErrAccountNotFound)

	owner := plainCredentials(t, f.alice, "alice", "abc123")
	owner.KeyType = authority.Owner
	_, err = v.VerifyLogin(ctx, owner, "abc123")
	assert.True(t, signer.IsKind(err, signer.KindConfiguration))
}

func TestVerifyLoginOperationChallenge(t *testing.T) {
	f := newFixture(t)
	v := NewVerifier(f.chain, protocol.MainnetChainID, protocol.HF26)
	tx := signedLogin(t, f.alice, "alice", authority.Posting, "abc123")
	data, err := tx.MarshalJSON()
	require.NoError(t, err)
	creds := Credentials{
		Username:   "alice",
		Signatures: Signatures{authority.Posting: tx.Signatures[0]},
		LoginType:  signer.LoginWIF,
		KeyType:    authority.Posting,
		TxJSON:     string(data),
	}
	_, err = v.VerifyLogin(context.Background(), creds, "abc123")
	require.NoError(t, err)

	_, err = v.VerifyLogin(context.Background(), creds, "zzz999")
	assert.ErrorIs(t, err, ErrWrongChallenge)
}

func TestPromptCancelLeavesNoSession(t *testing.T) {
	f := newFixture(t)
	store := signer.NewMemoryStore()
	c := f.controller(&signer.StaticPrompter{Cancel: true}, store)
	_, err := c.Login(context.Background(), LoginForm{Agent: "browser", Username: "alice", LoginType: signer.LoginWIF, KeyType: authority.Posting})
	assert.True(t, signer.IsKind(err, signer.KindCancelled))
	_, ok := c.Sessions.Load("browser")
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}

// blockingPrompter waits for its context on the first call and hands out the
// key afterwards.
type blockingPrompter struct {
	started chan struct{}
	wif     string
	calls   atomic.Int32
}

func (b *blockingPrompter) PromptForSecret(ctx context.Context, opts signer.PromptOptions) (signer.PromptResult, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
		<-ctx.Done()
		return signer.PromptResult{}, ctx.Err()
	}
	return signer.PromptResult{Password: b.wif}, nil
}

func TestNewLoginSupersedesPending(t *testing.T) {
	f := newFixture(t)
	prompter := &blockingPrompter{started: make(chan struct{}), wif: f.alice.WIF()}
	c := f.controller(prompter, signer.NewMemoryStore())
	form := LoginForm{Agent: "browser", Username: "alice", LoginType: signer.LoginWIF, KeyType: authority.Posting}

	first := make(chan error, 1)
	go func() {
		_, err := c.Login(context.Background(), form)
		first <- err
	}()
	<-prompter.started

	user, err := c.Login(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	err = <-first
	assert.True(t, signer.IsKind(err, signer.KindCancelled), "%v", err)
	saved, ok := c.Sessions.Load("browser")
	require.True(t, ok)
	assert.Equal(t, user, saved)
}

func TestLocalBackendConsumesChallenge(t *testing.T) {
	f := newFixture(t)
	issuer := challenge.NewIssuer(nil, 0)
	backend := LocalBackend{Verifier: NewVerifier(f.chain, protocol.MainnetChainID, protocol.HF26), Issuer: issuer}
	token, err := IssuerChallenges{Issuer: issuer}.Challenge(context.Background())
	require.NoError(t, err)
	creds := plainCredentials(t, f.alice, "alice", token)

	_, err = backend.Authenticate(context.Background(), creds, token)
	require.NoError(t, err)
	_, err = backend.Authenticate(context.Background(), creds, token)
	assert.True(t, signer.IsKind(err, signer.KindReplayedChallenge), "%v", err)

	_, err = backend.Authenticate(context.Background(), plainCredentials(t, f.alice, "alice", "abc123"), "abc123")
	assert.ErrorIs(t, err, challenge.ErrUnknownChallenge)
}
