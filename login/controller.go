package login

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/signer"
	"github.com/google/uuid"
)

var errSuperseded = errors.New("login superseded by a newer attempt")

// ChallengeSource hands out the login challenge of the current session.
type ChallengeSource interface {
	Challenge(ctx context.Context) (string, error)
}

// Backend verifies credentials signed over token. Server mode posts them to
// the verification endpoint, frontend mode checks them locally.
type Backend interface {
	Authenticate(ctx context.Context, creds Credentials, token string) (*User, error)
}

// LocalBackend verifies in process against the chain. With an Issuer the
// token must be one it issued and is consumed by a successful verification.
type LocalBackend struct {
	Verifier *Verifier
	Issuer   *challenge.Issuer
}

func (b LocalBackend) Authenticate(ctx context.Context, creds Credentials, token string) (*User, error) {
	const op = "authenticate"
	if b.Issuer != nil {
		if err := b.Issuer.Check(token); err != nil {
			return nil, challengeError(op, err)
		}
	}
	user, err := b.Verifier.VerifyLogin(ctx, creds, token)
	if err != nil {
		return nil, err
	}
	if b.Issuer != nil {
		if err := b.Issuer.Consume(token); err != nil {
			return nil, challengeError(op, err)
		}
	}
	return user, nil
}

func challengeError(op string, err error) error {
	if errors.Is(err, challenge.ErrReplayedChallenge) {
		return signer.Wrap(signer.KindReplayedChallenge, op, err)
	}
	return signer.Wrap(signer.KindAuthentication, op, err)
}

// IssuerChallenges hands out challenges from a local issuer, for frontend
// mode.
type IssuerChallenges struct {
	Issuer *challenge.Issuer
}

func (i IssuerChallenges) Challenge(ctx context.Context) (string, error) {
	return i.Issuer.Issue()
}

type SessionStore interface {
	Save(agent string, user *User) error
	Load(agent string) (*User, bool)
	Delete(agent string) error
}

type MemorySessions struct {
	mu    sync.Mutex
	users map[string]*User
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{users: make(map[string]*User)}
}

func (m *MemorySessions) Save(agent string, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[agent] = user
	return nil
}

func (m *MemorySessions) Load(agent string) (*User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[agent]
	return user, ok
}

func (m *MemorySessions) Delete(agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, agent)
	return nil
}

// SignerFactory builds the signer of one attempt, usually signer.New bound
// to the process dependencies.
type SignerFactory func(opts signer.Options) (signer.Signer, error)

type attempt struct {
	id     string
	cancel context.CancelCauseFunc
}

// Controller runs logins. A new login for an agent cancels the one in flight
// for it; only the latest attempt may establish a session.
type Controller struct {
	Challenges ChallengeSource
	Backend    Backend
	Sessions   SessionStore
	NewSigner  SignerFactory
	// Keys, when set, loses the user's cached keys on logout.
	Keys    signer.KeyStore
	ChainID crypto.Hash
	Pack    protocol.PackType

	mu       sync.Mutex
	inflight map[string]attempt
}

func (c *Controller) begin(ctx context.Context, agent string) (context.Context, string, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	id := uuid.NewString()
	c.mu.Lock()
	if c.inflight == nil {
		c.inflight = make(map[string]attempt)
	}
	if previous, ok := c.inflight[agent]; ok {
		slog.Info("superseding login attempt", "agent", agent, "attempt", previous.id)
		previous.cancel(errSuperseded)
	}
	c.inflight[agent] = attempt{id: id, cancel: cancel}
	c.mu.Unlock()
	return ctx, id, func() {
		c.mu.Lock()
		if current, ok := c.inflight[agent]; ok && current.id == id {
			delete(c.inflight, agent)
		}
		c.mu.Unlock()
		cancel(nil)
	}
}

// Login signs the session challenge with the backend the form selects and
// has the credentials verified. Nothing is persisted unless every step
// succeeds and the attempt is still the latest for its agent.
func (c *Controller) Login(ctx context.Context, form LoginForm) (*User, error) {
	const op = "login"
	ctx, id, done := c.begin(ctx, form.Agent)
	defer done()

	token, err := c.Challenges.Challenge(ctx)
	if err != nil {
		return nil, c.fail(ctx, op, signer.Wrap(signer.KindBackendUnavailable, op, err))
	}
	opts := form.options()
	opts.ChainID, opts.Pack = c.ChainID, c.Pack
	s, err := c.NewSigner(opts)
	if err != nil {
		return nil, err
	}
	defer s.Destroy()

	creds := Credentials{
		Username:              form.Username,
		LoginType:             form.LoginType,
		KeyType:               form.KeyType,
		AuthenticateOnBackend: form.AuthenticateOnBackend,
	}
	signature, txJSON, err := c.sign(ctx, s, form, token)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}
	creds.Signatures = Signatures{form.KeyType: signature}
	creds.TxJSON = txJSON

	user, err := c.Backend.Authenticate(ctx, creds, token)
	if err != nil {
		return nil, c.fail(ctx, op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.inflight[form.Agent]; !ok || current.id != id || ctx.Err() != nil {
		return nil, signer.Wrap(signer.KindCancelled, op, errSuperseded)
	}
	if err := c.Sessions.Save(form.Agent, user); err != nil {
		return nil, err
	}
	slog.Info("login", "username", user.Username, "loginType", user.LoginType, "keyType", user.KeyType)
	return user, nil
}

func (c *Controller) sign(ctx context.Context, s signer.Signer, form LoginForm, token string) (string, string, error) {
	if !form.UseOperation {
		message, err := challenge.LoginMessage(token)
		if err != nil {
			return "", "", signer.Wrap(signer.KindConfiguration, "login", err)
		}
		signature, err := s.SignChallenge(ctx, signer.ChallengeRequest{Message: message, Password: form.Password})
		return signature, "", err
	}
	tx, err := challenge.BuildLoginTransaction(form.Username, form.KeyType, token)
	if err != nil {
		return "", "", signer.Wrap(signer.KindConfiguration, "login", err)
	}
	opts := s.Options()
	signature, err := s.SignTransaction(ctx, signer.TransactionRequest{
		Digest:      tx.Digest(opts.ChainID, opts.Pack),
		Transaction: tx,
		Password:    form.Password,
	})
	if err != nil {
		return "", "", err
	}
	tx.Signatures = append(tx.Signatures, signature)
	data, err := json.Marshal(tx)
	if err != nil {
		return "", "", err
	}
	return signature, string(data), nil
}

// fail reports a superseded attempt as cancelled whatever step noticed it.
func (c *Controller) fail(ctx context.Context, op string, err error) error {
	if errors.Is(context.Cause(ctx), errSuperseded) {
		return signer.Wrap(signer.KindCancelled, op, errSuperseded)
	}
	return err
}

// Logout drops the agent's session and the user's cached keys.
func (c *Controller) Logout(ctx context.Context, agent string) error {
	user, ok := c.Sessions.Load(agent)
	if !ok {
		return nil
	}
	if err := c.Sessions.Delete(agent); err != nil {
		return err
	}
	if c.Keys != nil {
		return c.Keys.DeleteUser(user.Username)
	}
	return nil
}
