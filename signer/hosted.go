package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/crypto"
	"github.com/google/uuid"
)

var errAccessTokenRejected = errors.New("hosted signer rejected the access token")

// HostedAPI is an OAuth style signing service. Users grant an access token
// through a browser redirect; the token then lets the service sign messages
// for them. It cannot sign arbitrary transactions for a caller.
type HostedAPI interface {
	AuthorizeURL(username, state string) string
	SignMessage(ctx context.Context, accessToken, username string, message []byte) (crypto.RecoverableSignature, error)
}

// RedirectError carries the URL the user must visit to grant access.
type RedirectError struct {
	URL string
}

func (r *RedirectError) Error() string {
	return fmt.Sprintf("%v: authorize at %s", ErrMissingAccessToken, r.URL)
}

func (r *RedirectError) Unwrap() error {
	return ErrMissingAccessToken
}

type HostedSigner struct {
	lifecycle
	opts  Options
	store KeyStore
	api   HostedAPI
}

func (s *HostedSigner) Options() Options { return s.opts }

func (s *HostedSigner) Capabilities() Capabilities {
	return Capabilities{SupportsTransactionSigning: false, RequiresInteractiveRedirect: true}
}

// Authorize stores the access token returned by the redirect flow.
func (s *HostedSigner) Authorize(accessToken string, expiresIn time.Duration) error {
	if s.isDestroyed() {
		return newError(KindCancelled, "authorize", ErrDestroyed)
	}
	entry := Entry{Secret: []byte(accessToken)}
	if expiresIn > 0 {
		entry.ExpiresAt = time.Now().Add(expiresIn)
	}
	return s.store.Put(s.opts.storeKey(), entry)
}

func (s *HostedSigner) SignChallenge(ctx context.Context, req ChallengeRequest) (string, error) {
	const op = "sign challenge"
	if len(req.Message) == 0 {
		return "", newError(KindConfiguration, op, challenge.ErrEmptyChallenge)
	}
	return s.run(ctx, op, func(ctx context.Context) (string, error) {
		entry, ok := s.store.Get(s.opts.storeKey())
		if !ok {
			return "", newError(KindAuthentication, op, &RedirectError{URL: s.api.AuthorizeURL(s.opts.Username, uuid.NewString())})
		}
		signature, err := s.api.SignMessage(ctx, string(entry.Secret), s.opts.Username, req.Message)
		if errors.Is(err, errAccessTokenRejected) {
			s.store.Delete(s.opts.storeKey())
			return "", newError(KindAuthentication, op, &RedirectError{URL: s.api.AuthorizeURL(s.opts.Username, uuid.NewString())})
		}
		if err != nil {
			return "", Wrap(KindBackendUnavailable, op, err)
		}
		return signature.String(), nil
	})
}

// SignTransaction always fails: transactions go through the hosted site's
// own redirect flow.
func (s *HostedSigner) SignTransaction(ctx context.Context, req TransactionRequest) (string, error) {
	const op = "sign transaction"
	if s.isDestroyed() {
		return "", newError(KindCancelled, op, ErrDestroyed)
	}
	return "", newError(KindConfiguration, op, ErrRedirectRequired)
}

func (s *HostedSigner) Destroy() {
	s.destroy()
}

// HTTPHostedAPI talks to a hosted signer over HTTPS.
type HTTPHostedAPI struct {
	Endpoint    string
	ClientID    string
	CallbackURL string
	Client      *http.Client
}

func (h *HTTPHostedAPI) AuthorizeURL(username, state string) string {
	query := url.Values{}
	query.Set("client_id", h.ClientID)
	query.Set("redirect_uri", h.CallbackURL)
	query.Set("scope", "login")
	query.Set("state", state)
	if username != "" {
		query.Set("username", username)
	}
	return strings.TrimSuffix(h.Endpoint, "/") + "/oauth2/authorize?" + query.Encode()
}

type signMessageRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type signMessageResponse struct {
	Signature crypto.RecoverableSignature `json:"signature"`
}

func (h *HTTPHostedAPI) SignMessage(ctx context.Context, accessToken, username string, message []byte) (crypto.RecoverableSignature, error) {
	var signature crypto.RecoverableSignature
	body, err := json.Marshal(signMessageRequest{Username: username, Message: hex.EncodeToString(message)})
	if err != nil {
		return signature, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(h.Endpoint, "/")+"/api/sign", bytes.NewReader(body))
	if err != nil {
		return signature, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", accessToken)
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return signature, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return signature, errAccessTokenRejected
	case resp.StatusCode != http.StatusOK:
		return signature, fmt.Errorf("hosted signer returned %s", resp.Status)
	}
	var out signMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return signature, fmt.Errorf("could not decode hosted signer response: %w", err)
	}
	return out.Signature, nil
}
