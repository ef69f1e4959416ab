package login

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"github.com/freehandle/signon/protocol/chain"
	"github.com/freehandle/signon/signer"
	"github.com/pkg/errors"
)

// ChallengeCookie holds the unconsumed login challenge.
const ChallengeCookie = "login_challenge"

// Gateway paths.
const (
	ChallengePath = "/auth/challenge"
	LoginPath     = "/auth/login"
	LogoutPath    = "/auth/logout"
	SessionPath   = "/auth/session"
)

// ErrorResponse is the body of a failed gateway call. Kind is the
// signer.Kind name.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

// Remote talks to a verification gateway. It is both the ChallengeSource and
// the Backend of a server mode Controller; the challenge travels in the
// cookie jar.
type Remote struct {
	Endpoint string
	Client   *http.Client
}

// NewRemote keeps the gateway cookies in memory for the life of the process.
func NewRemote(endpoint string) (*Remote, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return NewRemoteWithJar(endpoint, jar), nil
}

// NewRemoteWithJar uses jar for the gateway cookies, typically a
// FileSessions jar so the session outlives the process.
func NewRemoteWithJar(endpoint string, jar http.CookieJar) *Remote {
	return &Remote{Endpoint: strings.TrimSuffix(endpoint, "/"), Client: &http.Client{Jar: jar}}
}

func (r *Remote) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.Endpoint+path, reader)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.Client.Do(req)
	if err != nil {
		return signer.Wrap(signer.KindBackendUnavailable, path, errors.Wrap(err, "gateway request"))
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode gateway response")
	}
	var failure ErrorResponse
	json.NewDecoder(resp.Body).Decode(&failure)
	err = fmt.Errorf("gateway %s: %d %s", path, resp.StatusCode, failure.Message)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return signer.Wrap(signer.KindAuthentication, path, fmt.Errorf("%w: %v", chain.ErrAccountNotFound, err))
	case http.StatusUnauthorized:
		if failure.Kind == signer.KindReplayedChallenge.String() {
			return signer.Wrap(signer.KindReplayedChallenge, path, err)
		}
		return signer.Wrap(signer.KindAuthentication, path, fmt.Errorf("%w: %v", ErrInvalidAuthority, err))
	case http.StatusBadRequest:
		return signer.Wrap(signer.KindConfiguration, path, err)
	}
	return signer.Wrap(signer.KindBackendUnavailable, path, err)
}

func (r *Remote) Challenge(ctx context.Context) (string, error) {
	var resp struct {
		LoginChallenge string `json:"loginChallenge"`
	}
	if err := r.do(ctx, http.MethodGet, ChallengePath, nil, &resp); err != nil {
		return "", err
	}
	return resp.LoginChallenge, nil
}

// Authenticate posts creds; the gateway reads the challenge from its cookie.
func (r *Remote) Authenticate(ctx context.Context, creds Credentials, token string) (*User, error) {
	var user User
	if err := r.do(ctx, http.MethodPost, LoginPath, creds, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Remote) Session(ctx context.Context) (*User, error) {
	var user User
	if err := r.do(ctx, http.MethodGet, SessionPath, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Remote) Logout(ctx context.Context) error {
	return r.do(ctx, http.MethodPost, LogoutPath, nil, nil)
}
