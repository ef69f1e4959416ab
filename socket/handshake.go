package socket

import (
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"time"

	"github.com/freehandle/signon/crypto"
)

var errCouldNotVerify = errors.New("could not verify communication")

// HandshakeTimeout bounds the whole handshake.
const HandshakeTimeout = 10 * time.Second

// Handshake for signed communication between a client and a server.
//
// The client knows the server address and its token beforehand. It sends its
// own token and a random nonce. The server checks the client token with its
// ValidateConnection and answers with its token, a signature of the client
// nonce and a nonce of its own. The client checks the server token and
// signature and returns a signature of the server nonce.
//
// Both nonces are hashed into the session id. Every later message signature
// covers the session id and a per direction sequence number, so messages
// cannot be replayed across or within sessions.

// read the first byte (n) and read subsequent n-bytes from connection
func readhs(conn net.Conn) ([]byte, error) {
	length := make([]byte, 1)
	if _, err := io.ReadFull(conn, length); err != nil {
		return nil, err
	}
	msg := make([]byte, length[0])
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func writehs(conn net.Conn, msg []byte) error {
	if len(msg) > 255 {
		return errors.New("msg too large to send")
	}
	msgToSend := append([]byte{byte(len(msg))}, msg...)
	_, err := conn.Write(msgToSend)
	return err
}

func sessionID(clientNonce, serverNonce []byte) crypto.Hash {
	return crypto.Hasher(append(append([]byte{}, clientNonce...), serverNonce...))
}

func performClientHandShake(conn net.Conn, prvKey crypto.PrivateKey, remotePub crypto.Token) (*SignedConnection, error) {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	pubKey := prvKey.PublicKey()
	nonce := crypto.Nonce()
	if err := writehs(conn, append(pubKey[:], nonce...)); err != nil {
		return nil, err
	}
	resp, err := readhs(conn)
	if err != nil {
		return nil, err
	}
	if len(resp) != crypto.TokenSize+crypto.SignatureSize+crypto.NonceSize {
		return nil, errCouldNotVerify
	}
	remoteToken := resp[0:crypto.TokenSize]
	var remoteSignature crypto.Signature
	copy(remoteSignature[:], resp[crypto.TokenSize:crypto.TokenSize+crypto.SignatureSize])
	remoteNonce := resp[crypto.TokenSize+crypto.SignatureSize:]
	if subtle.ConstantTimeCompare(remoteToken, remotePub[:]) != 1 {
		return nil, errCouldNotVerify
	}
	if !remotePub.Verify(nonce, remoteSignature) {
		return nil, errCouldNotVerify
	}
	signature := prvKey.Sign(remoteNonce)
	if writehs(conn, signature[:]) != nil {
		return nil, errCouldNotVerify
	}
	return newSignedConnection(conn, prvKey, remotePub, sessionID(nonce, remoteNonce)), nil
}

// PromoteConnection performs the server side of the handshake on an accepted
// connection. The connection is closed when the handshake fails.
func PromoteConnection(conn net.Conn, prvKey crypto.PrivateKey, validator ValidateConnection) (*SignedConnection, error) {
	signed, err := promote(conn, prvKey, validator)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return signed, nil
}

func promote(conn net.Conn, prvKey crypto.PrivateKey, validator ValidateConnection) (*SignedConnection, error) {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	resp, err := readhs(conn)
	if err != nil {
		return nil, err
	}
	if len(resp) != crypto.TokenSize+crypto.NonceSize {
		return nil, errCouldNotVerify
	}
	var remoteToken crypto.Token
	copy(remoteToken[:], resp[:crypto.TokenSize])
	if ok := validator.ValidateConnection(remoteToken); !<-ok {
		return nil, errCouldNotVerify
	}
	nonce := resp[crypto.TokenSize:]
	signature := prvKey.Sign(nonce)
	token := prvKey.PublicKey()
	newNonce := crypto.Nonce()
	msgToSend := append(append(token[:], signature[:]...), newNonce...)
	if err := writehs(conn, msgToSend); err != nil {
		return nil, err
	}
	resp, err = readhs(conn)
	if err != nil {
		return nil, err
	}
	if len(resp) != crypto.SignatureSize {
		return nil, errCouldNotVerify
	}
	var clientSignature crypto.Signature
	copy(clientSignature[:], resp)
	if !remoteToken.Verify(newNonce, clientSignature) {
		return nil, errCouldNotVerify
	}
	return newSignedConnection(conn, prvKey, remoteToken, sessionID(nonce, newNonce)), nil
}
