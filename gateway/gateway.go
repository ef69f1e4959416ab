// Package gateway serves the login verification endpoint: it issues the
// challenge cookie, verifies submitted credentials against the chain and
// keeps the resulting session in a cookie.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/freehandle/signon/challenge"
	"github.com/freehandle/signon/login"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/protocol/chain"
	"github.com/freehandle/signon/signer"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionName is the cookie holding the logged in user.
const SessionName = "signon_session"

const maxBodySize = 1 << 16

type Server struct {
	Issuer   *challenge.Issuer
	Verifier *login.Verifier
	Sessions sessions.Store
	Metrics  *Metrics
	// ChallengeTTL is the challenge cookie lifetime, the issuer's TTL.
	ChallengeTTL  time.Duration
	SecureCookies bool
	gatherer      prometheus.Gatherer
}

func NewServer(issuer *challenge.Issuer, verifier *login.Verifier, store sessions.Store, registry *prometheus.Registry) *Server {
	return &Server{
		Issuer:       issuer,
		Verifier:     verifier,
		Sessions:     store,
		Metrics:      NewMetrics(registry),
		ChallengeTTL: challenge.DefaultTTL,
		gatherer:     registry,
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(login.ChallengePath, s.handleChallenge).Methods(http.MethodGet)
	r.HandleFunc(login.LoginPath, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(login.LogoutPath, s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc(login.SessionPath, s.handleSession).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind signer.Kind, err error) {
	writeJSON(w, status, login.ErrorResponse{Kind: kind.String(), Message: err.Error()})
}

func (s *Server) challengeCookie(token string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     login.ChallengeCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	token, err := s.Issuer.Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, signer.KindBackendUnavailable, err)
		return
	}
	s.Metrics.ChallengesIssued.Inc()
	http.SetCookie(w, s.challengeCookie(token, int(s.ChallengeTTL.Seconds())))
	writeJSON(w, http.StatusOK, map[string]string{"loginChallenge": token})
}

// status maps a verification failure to its HTTP status and error kind.
func status(err error) (int, signer.Kind) {
	switch {
	case errors.Is(err, chain.ErrAccountNotFound):
		return http.StatusNotFound, signer.KindAuthentication
	case errors.Is(err, challenge.ErrReplayedChallenge):
		return http.StatusUnauthorized, signer.KindReplayedChallenge
	case errors.Is(err, challenge.ErrUnknownChallenge), errors.Is(err, challenge.ErrEmptyChallenge):
		return http.StatusUnauthorized, signer.KindAuthentication
	}
	kind, _ := signer.KindOf(err)
	switch kind {
	case signer.KindConfiguration:
		return http.StatusBadRequest, kind
	case signer.KindBackendUnavailable:
		return http.StatusBadGateway, kind
	case signer.KindReplayedChallenge, signer.KindDigestMismatch:
		return http.StatusUnauthorized, kind
	}
	return http.StatusUnauthorized, signer.KindAuthentication
}

// handleLogin verifies credentials against the cookie challenge. The
// challenge is consumed only by a successful verification, and only once.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() { s.Metrics.LoginDuration.Observe(time.Since(started).Seconds()) }()
	fail := func(err error) {
		code, kind := status(err)
		s.Metrics.LoginAttempts.WithLabelValues(kind.String()).Inc()
		slog.Info("login rejected", "status", code, "kind", kind, "error", err)
		writeError(w, code, kind, err)
	}

	var creds login.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&creds); err != nil {
		fail(signer.Wrap(signer.KindConfiguration, "decode credentials", err))
		return
	}
	cookie, err := r.Cookie(login.ChallengeCookie)
	if err != nil {
		fail(signer.Wrap(signer.KindAuthentication, "read challenge", login.ErrChallengeMissing))
		return
	}
	token := cookie.Value
	if err := s.Issuer.Check(token); err != nil {
		fail(err)
		return
	}
	user, err := s.Verifier.VerifyLogin(r.Context(), creds, token)
	if err != nil {
		fail(err)
		return
	}
	if err := s.Issuer.Consume(token); err != nil {
		fail(err)
		return
	}
	session, _ := s.Sessions.New(r, SessionName)
	session.Values["username"] = user.Username
	session.Values["avatarUrl"] = user.AvatarURL
	session.Values["loginType"] = string(user.LoginType)
	session.Values["keyType"] = string(user.KeyType)
	if err := session.Save(r, w); err != nil {
		fail(signer.Wrap(signer.KindBackendUnavailable, "save session", err))
		return
	}
	http.SetCookie(w, s.challengeCookie("", -1))
	s.Metrics.LoginAttempts.WithLabelValues("ok").Inc()
	slog.Info("login verified", "username", user.Username, "loginType", user.LoginType, "keyType", user.KeyType)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) user(r *http.Request) (*login.User, bool) {
	session, err := s.Sessions.Get(r, SessionName)
	if err != nil {
		return nil, false
	}
	username, ok := session.Values["username"].(string)
	if !ok || username == "" {
		return nil, false
	}
	avatar, _ := session.Values["avatarUrl"].(string)
	loginType, _ := session.Values["loginType"].(string)
	keyType, _ := session.Values["keyType"].(string)
	return &login.User{
		IsLoggedIn: true,
		Username:   username,
		AvatarURL:  avatar,
		LoginType:  signer.LoginType(loginType),
		KeyType:    authority.Level(keyType),
	}, true
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := s.user(r)
	if !ok {
		writeJSON(w, http.StatusOK, login.User{})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := s.Sessions.Get(r, SessionName)
	if username, ok := session.Values["username"].(string); ok {
		slog.Info("logout", "username", username)
	}
	session.Values = make(map[interface{}]interface{})
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		writeError(w, http.StatusInternalServerError, signer.KindBackendUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, login.User{})
}
