package signer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCustody struct {
	mu         sync.Mutex
	key        crypto.SecretKey
	password   string
	authorized map[string]bool
	signs      int
	logouts    int
}

func newFakeCustody(key crypto.SecretKey) *fakeCustody {
	return &fakeCustody{key: key, password: "pw", authorized: make(map[string]bool)}
}

func (c *fakeCustody) IsAuthorized(ctx context.Context, username string, keyType authority.Level) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized[username+"@"+string(keyType)], nil
}

func (c *fakeCustody) Authenticate(ctx context.Context, username string, keyType authority.Level, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if password != c.password {
		return ErrNotAuthorized
	}
	c.authorized[username+"@"+string(keyType)] = true
	return nil
}

func (c *fakeCustody) SignDigest(ctx context.Context, username string, keyType authority.Level, digest crypto.Hash) (crypto.RecoverableSignature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signs++
	return c.key.Sign(digest)
}

func (c *fakeCustody) Logout(ctx context.Context, username string, keyType authority.Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	delete(c.authorized, username+"@"+string(keyType))
	return nil
}

func newCustodySigner(t *testing.T, service CustodyService, prompter Prompter) *CustodySigner {
	t.Helper()
	online := NewOnlineClient(func(ctx context.Context) (CustodyService, error) {
		return service, nil
	})
	s, err := New(Options{Username: "alice", LoginType: LoginHiveAuth, KeyType: authority.Posting}, Dependencies{Custody: online, Prompter: prompter})
	require.NoError(t, err)
	return s.(*CustodySigner)
}

func TestCustodyAuthenticatesOnce(t *testing.T) {
	f := newFixture(t)
	service := newFakeCustody(f.key)
	prompter := &StaticPrompter{Result: PromptResult{Password: "pw"}}
	s := newCustodySigner(t, service, prompter)

	for n := 0; n < 2; n++ {
		text, err := s.SignChallenge(context.Background(), ChallengeRequest{Message: loginMessage(t)})
		require.NoError(t, err)
		signature, err := crypto.SignatureFromHex(text)
		require.NoError(t, err)
		assert.True(t, signature.Verify(f.key.PublicKey(), crypto.Hasher(loginMessage(t))))
	}
	assert.Equal(t, 1, prompter.Calls(), "warm session skips the prompt")

	s.Destroy()
	assert.Equal(t, 1, service.logouts)
}

func TestCustodyWrongPassword(t *testing.T) {
	f := newFixture(t)
	service := newFakeCustody(f.key)
	prompter := &StaticPrompter{Result: PromptResult{Password: "wrong"}}
	s := newCustodySigner(t, service, prompter)
	_, err := s.SignChallenge(context.Background(), ChallengeRequest{Message: loginMessage(t)})
	assert.True(t, IsKind(err, KindAuthentication))
	assert.Equal(t, maxPromptAttempts, prompter.Calls())
	assert.Equal(t, 0, service.signs)
}

func TestCustodyUnreachable(t *testing.T) {
	var dials atomic.Int32
	online := NewOnlineClient(func(ctx context.Context) (CustodyService, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})
	s, err := New(Options{Username: "alice", LoginType: LoginHiveAuth, KeyType: authority.Active}, Dependencies{Custody: online, Prompter: &StaticPrompter{}})
	require.NoError(t, err)
	for n := 0; n < 2; n++ {
		_, err = s.SignChallenge(context.Background(), ChallengeRequest{Message: loginMessage(t)})
		assert.True(t, IsKind(err, KindBackendUnavailable))
	}
	assert.Equal(t, int32(2), dials.Load(), "failed dial is not cached")
}

func TestOnlineClientSharedDial(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	online := NewOnlineClient(func(ctx context.Context) (int, error) {
		dials.Add(1)
		<-release
		return 7, nil
	})
	var wg sync.WaitGroup
	for n := 0; n < 5; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := online.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), dials.Load())
	online.Reset()
	_, ok := online.Peek()
	assert.False(t, ok)
}

func TestVaultStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.vault")
	store, err := OpenVaultStore([]byte("master"), path)
	require.NoError(t, err)
	posting := StoreKey{Username: "alice", KeyType: authority.Posting, Backend: LoginWIF}
	active := StoreKey{Username: "alice", KeyType: authority.Active, Backend: LoginWIF}
	require.NoError(t, store.Put(posting, Entry{Secret: []byte("posting-wif")}))
	require.NoError(t, store.Put(active, Entry{Secret: []byte("active-wif"), ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, store.Delete(active))
	require.NoError(t, store.Close())

	reopened, err := OpenVaultStore([]byte("master"), path)
	require.NoError(t, err)
	defer reopened.Close()
	entry, ok := reopened.Get(posting)
	require.True(t, ok)
	assert.Equal(t, "posting-wif", string(entry.Secret))
	_, ok = reopened.Get(active)
	assert.False(t, ok)

	require.NoError(t, reopened.DeleteUser("alice"))
	_, ok = reopened.Get(posting)
	assert.False(t, ok)

	_, err = OpenVaultStore([]byte("not master"), path)
	assert.Error(t, err)
}
