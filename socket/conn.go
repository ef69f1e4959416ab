// Package socket implements a signed unencrypted TCP connection between two
// ed25519 identities.
package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/util"
)

// MaxMessageSize bounds a single message.
const MaxMessageSize = 1 << 20

var (
	ErrMessageTooLarge  = errors.New("message too large")
	ErrInvalidSignature = errors.New("signature is invalid")
)

func Dial(ctx context.Context, address string, credentials crypto.PrivateKey, token crypto.Token) (*SignedConnection, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	signed, err := performClientHandShake(conn, credentials, token)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return signed, nil
}

// SignedConnection frames messages as length || payload || signature. The
// signature covers the session id, the sequence number and the payload.
type SignedConnection struct {
	Token   crypto.Token
	key     crypto.PrivateKey
	conn    net.Conn
	session crypto.Hash

	sendMu  sync.Mutex
	sent    uint64
	readMu  sync.Mutex
	read    uint64
	closeMu sync.Once
}

func newSignedConnection(conn net.Conn, key crypto.PrivateKey, remote crypto.Token, session crypto.Hash) *SignedConnection {
	return &SignedConnection{Token: remote, key: key, conn: conn, session: session}
}

func (s *SignedConnection) signed(sequence uint64, msg []byte) []byte {
	data := make([]byte, 0, crypto.Size+8+len(msg))
	util.PutHash(s.session, &data)
	util.PutUint64(sequence, &data)
	return append(data, msg...)
}

func (s *SignedConnection) Send(msg []byte) error {
	if len(msg)+crypto.SignatureSize > MaxMessageSize {
		return ErrMessageTooLarge
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	signature := s.key.Sign(s.signed(s.sent, msg))
	data := make([]byte, 0, 4+len(msg)+crypto.SignatureSize)
	util.PutUint32(uint32(len(msg)+crypto.SignatureSize), &data)
	data = append(append(data, msg...), signature[:]...)
	if _, err := s.conn.Write(data); err != nil {
		return err
	}
	s.sent++
	return nil
}

func (s *SignedConnection) Read() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	lengthBytes := make([]byte, 4)
	if _, err := io.ReadFull(s.conn, lengthBytes); err != nil {
		return nil, err
	}
	length, _ := util.ParseUint32(lengthBytes, 0)
	if length > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	if length < crypto.SignatureSize {
		return nil, errors.New("message too short")
	}
	bytes := make([]byte, length)
	if _, err := io.ReadFull(s.conn, bytes); err != nil {
		return nil, err
	}
	msg := bytes[0 : len(bytes)-crypto.SignatureSize]
	var signature crypto.Signature
	copy(signature[:], bytes[len(bytes)-crypto.SignatureSize:])
	if !s.Token.Verify(s.signed(s.read, msg), signature) {
		return nil, ErrInvalidSignature
	}
	s.read++
	return msg, nil
}

func (s *SignedConnection) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *SignedConnection) Shutdown() {
	s.closeMu.Do(func() { s.conn.Close() })
}

// Close implements io.Closer.
func (s *SignedConnection) Close() error {
	s.Shutdown()
	return nil
}

// SetDeadline sets the read and write deadline of the underlying connection.
func (s *SignedConnection) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

func Listen(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}
