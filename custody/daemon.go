package custody

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/socket"
)

// DefaultSessionTTL is how long an unlocked key stays usable.
const DefaultSessionTTL = 15 * time.Minute

// sessions are bound to the connecting client identity.
type sessionID struct {
	client   crypto.Token
	username string
	keyType  authority.Level
}

type session struct {
	key     crypto.SecretKey
	expires time.Time
}

type Daemon struct {
	mu       sync.Mutex
	Keys     *Keyring
	Secret   crypto.PrivateKey
	Firewall socket.ValidateConnection
	TTL      time.Duration
	sessions map[sessionID]session
	live     map[*socket.SignedConnection]struct{}
	now      func() time.Time
}

func NewDaemon(keys *Keyring, secret crypto.PrivateKey, firewall socket.ValidateConnection, ttl time.Duration) *Daemon {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if firewall == nil {
		firewall = socket.AcceptAllConnections
	}
	return &Daemon{
		Keys:     keys,
		Secret:   secret,
		Firewall: firewall,
		TTL:      ttl,
		sessions: make(map[sessionID]session),
		live:     make(map[*socket.SignedConnection]struct{}),
		now:      time.Now,
	}
}

// Serve accepts connections on listener until ctx is done. Open connections
// are closed on return.
func (d *Daemon) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	defer func() {
		d.mu.Lock()
		for conn := range d.live {
			conn.Shutdown()
		}
		d.mu.Unlock()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			trusted, err := socket.PromoteConnection(conn, d.Secret, d.Firewall)
			if err != nil {
				slog.Info("custody connection rejected", "remote", conn.RemoteAddr(), "error", err)
				return
			}
			d.Panel(trusted)
		}()
	}
}

// Panel answers requests on one connection until it fails.
func (d *Daemon) Panel(conn *socket.SignedConnection) {
	d.mu.Lock()
	d.live[conn] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.live, conn)
		d.mu.Unlock()
		conn.Shutdown()
	}()
	for {
		data, err := conn.Read()
		if err != nil {
			return
		}
		req, err := ParseRequest(data)
		if err != nil {
			slog.Warn("custody request malformed", "client", conn.Token, "error", err)
			return
		}
		resp := d.handle(conn.Token, req)
		if err := conn.Send(resp.Serialize(req.Kind)); err != nil {
			return
		}
	}
}

func (d *Daemon) handle(client crypto.Token, req Request) Response {
	id := sessionID{client: client, username: req.Username, keyType: req.KeyType}
	switch req.Kind {
	case MsgIsAuthorized:
		_, ok := d.session(id)
		return Response{Status: StatusOk, Authorized: ok}
	case MsgAuthenticate:
		key, err := d.Keys.Unlock(req.Username, req.KeyType, req.Password)
		if errors.Is(err, ErrWrongPassword) || errors.Is(err, ErrUnknownKey) {
			slog.Info("custody authentication failed", "username", req.Username, "keyType", req.KeyType)
			return Response{Status: StatusNotAuthorized}
		}
		if err != nil {
			return Response{Status: StatusErr, Error: err.Error()}
		}
		d.mu.Lock()
		d.sessions[id] = session{key: key, expires: d.now().Add(d.TTL)}
		d.mu.Unlock()
		return Response{Status: StatusOk}
	case MsgSignDigest:
		s, ok := d.session(id)
		if !ok {
			return Response{Status: StatusNotAuthorized}
		}
		signature, err := s.key.Sign(req.Digest)
		if err != nil {
			return Response{Status: StatusErr, Error: err.Error()}
		}
		return Response{Status: StatusOk, Signature: signature}
	case MsgLogout:
		d.mu.Lock()
		delete(d.sessions, id)
		d.mu.Unlock()
		return Response{Status: StatusOk}
	}
	return Response{Status: StatusErr, Error: errMalformedMessage.Error()}
}

func (d *Daemon) session(id sessionID) (session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		return session{}, false
	}
	if !s.expires.After(d.now()) {
		delete(d.sessions, id)
		return session{}, false
	}
	return s, true
}
