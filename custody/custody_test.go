package custody

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/signer"
	"github.com/freehandle/signon/socket"
	"github.com/freehandle/signon/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDaemon struct {
	address string
	token   crypto.Token
	key     crypto.SecretKey
	daemon  *Daemon
}

func startDaemon(t *testing.T) testDaemon {
	t.Helper()
	vault, err := util.NewSecureVault([]byte("operator"), filepath.Join(t.TempDir(), "custody.vault"))
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })
	keys, err := NewKeyring(vault)
	require.NoError(t, err)
	key, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	require.NoError(t, keys.Add("alice", authority.Posting, "pw", key.WIF()))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	daemon := NewDaemon(keys, vault.SecretKey, socket.AcceptAllConnections, 0)
	go daemon.Serve(ctx, listener)
	return testDaemon{address: listener.Addr().String(), token: vault.SecretKey.PublicKey(), key: key, daemon: daemon}
}

func dial(t *testing.T, d testDaemon) *Client {
	t.Helper()
	_, credentials := crypto.RandomAsymetricKey()
	client, err := Dial(context.Background(), d.address, credentials, d.token)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientSession(t *testing.T) {
	d := startDaemon(t)
	client := dial(t, d)
	ctx := context.Background()
	digest := crypto.Hasher([]byte("digest"))

	ok, err := client.IsAuthorized(ctx, "alice", authority.Posting)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = client.SignDigest(ctx, "alice", authority.Posting, digest)
	assert.ErrorIs(t, err, signer.ErrNotAuthorized)

	assert.ErrorIs(t, client.Authenticate(ctx, "alice", authority.Posting, "wrong"), signer.ErrNotAuthorized)
	assert.ErrorIs(t, client.Authenticate(ctx, "alice", authority.Active, "pw"), signer.ErrNotAuthorized)
	require.NoError(t, client.Authenticate(ctx, "alice", authority.Posting, "pw"))

	ok, err = client.IsAuthorized(ctx, "alice", authority.Posting)
	require.NoError(t, err)
	assert.True(t, ok)

	signature, err := client.SignDigest(ctx, "alice", authority.Posting, digest)
	require.NoError(t, err)
	assert.True(t, signature.Verify(d.key.PublicKey(), digest))

	// another client identity does not share the session
	other := dial(t, d)
	ok, err = other.IsAuthorized(ctx, "alice", authority.Posting)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Logout(ctx, "alice", authority.Posting))
	ok, err = client.IsAuthorized(ctx, "alice", authority.Posting)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustodySignerOverSocket(t *testing.T) {
	d := startDaemon(t)
	_, credentials := crypto.RandomAsymetricKey()
	online := signer.NewOnlineClient(Dialer(d.address, credentials, d.token))
	prompter := &signer.StaticPrompter{Result: signer.PromptResult{Password: "pw"}}
	s, err := signer.New(
		signer.Options{Username: "alice", LoginType: signer.LoginHiveAuth, KeyType: authority.Posting},
		signer.Dependencies{Custody: online, Prompter: prompter},
	)
	require.NoError(t, err)

	message, err := challenge.LoginMessage("token")
	require.NoError(t, err)
	text, err := s.SignChallenge(context.Background(), signer.ChallengeRequest{Message: message})
	require.NoError(t, err)
	signature, err := crypto.SignatureFromHex(text)
	require.NoError(t, err)
	assert.True(t, signature.Verify(d.key.PublicKey(), crypto.Hasher(message)))
	assert.Equal(t, 1, prompter.Calls())

	s.Destroy()
}

func TestUnreachableDaemon(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	listener.Close()

	token, credentials := crypto.RandomAsymetricKey()
	online := signer.NewOnlineClient(Dialer(address, credentials, token))
	s, err := signer.New(
		signer.Options{Username: "alice", LoginType: signer.LoginHiveAuth, KeyType: authority.Posting},
		signer.Dependencies{Custody: online, Prompter: &signer.StaticPrompter{}},
	)
	require.NoError(t, err)
	_, err = s.SignChallenge(context.Background(), signer.ChallengeRequest{Message: []byte(`{"token":"x"}`)})
	assert.True(t, signer.IsKind(err, signer.KindBackendUnavailable))
}

func TestKeyringSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.vault")
	vault, err := util.NewSecureVault([]byte("operator"), path)
	require.NoError(t, err)
	keys, err := NewKeyring(vault)
	require.NoError(t, err)
	key, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	require.NoError(t, keys.Add("alice", authority.Posting, "pw", key.WIF()))
	require.NoError(t, keys.Add("alice", authority.Active, "pw", key.WIF()))
	require.NoError(t, keys.Remove("alice", authority.Active))
	assert.ErrorIs(t, keys.Remove("bob", authority.Active), ErrUnknownKey)
	assert.Error(t, keys.Add("bob", authority.Posting, "pw", "not a wif"))
	require.NoError(t, vault.Close())

	vault, err = util.OpenVaultFromPassword([]byte("operator"), path)
	require.NoError(t, err)
	defer vault.Close()
	keys, err = NewKeyring(vault)
	require.NoError(t, err)
	assert.True(t, keys.Has("alice", authority.Posting))
	assert.False(t, keys.Has("alice", authority.Active))
	unlocked, err := keys.Unlock("alice", authority.Posting, "pw")
	require.NoError(t, err)
	assert.Equal(t, key.WIF(), unlocked.WIF())
	_, err = keys.Unlock("alice", authority.Posting, "nope")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestMessageParsing(t *testing.T) {
	req := Request{Kind: MsgSignDigest, Username: "alice", KeyType: authority.Active, Digest: crypto.Hasher([]byte("x"))}
	parsed, err := ParseRequest(req.Serialize())
	require.NoError(t, err)
	assert.Equal(t, req, parsed)

	_, err = ParseRequest(append(req.Serialize(), 0))
	assert.Error(t, err)
	_, err = ParseRequest([]byte{99})
	assert.Error(t, err)

	resp := Response{Status: StatusErr, Error: "boom"}
	back, err := ParseResponse(MsgSignDigest, resp.Serialize(MsgSignDigest))
	require.NoError(t, err)
	assert.Equal(t, resp, back)
}
