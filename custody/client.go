package custody

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/signer"
	"github.com/freehandle/signon/socket"
)

var errClientBroken = errors.New("custody connection interrupted")

// Client is a signer.CustodyService reached over a signed connection. One
// request is in flight at a time.
type Client struct {
	mu     sync.Mutex
	conn   *socket.SignedConnection
	broken bool
}

func Dial(ctx context.Context, address string, credentials crypto.PrivateKey, daemon crypto.Token) (*Client, error) {
	conn, err := socket.Dial(ctx, address, credentials, daemon)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Dialer returns the dial function of a signer.OnlineClient.
func Dialer(address string, credentials crypto.PrivateKey, daemon crypto.Token) func(context.Context) (signer.CustodyService, error) {
	return func(ctx context.Context) (signer.CustodyService, error) {
		client, err := Dial(ctx, address, credentials, daemon)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends req and reads its response. An interrupted exchange leaves
// the connection unusable.
func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return Response{}, errClientBroken
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()
	resp, err := c.exchange(req)
	if err != nil {
		c.broken = true
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, err
	}
	switch resp.Status {
	case StatusNotAuthorized:
		return resp, signer.ErrNotAuthorized
	case StatusErr:
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func (c *Client) exchange(req Request) (Response, error) {
	if err := c.conn.Send(req.Serialize()); err != nil {
		return Response{}, err
	}
	data, err := c.conn.Read()
	if err != nil {
		return Response{}, err
	}
	return ParseResponse(req.Kind, data)
}

func (c *Client) IsAuthorized(ctx context.Context, username string, keyType authority.Level) (bool, error) {
	resp, err := c.roundTrip(ctx, Request{Kind: MsgIsAuthorized, Username: username, KeyType: keyType})
	if err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

func (c *Client) Authenticate(ctx context.Context, username string, keyType authority.Level, password string) error {
	_, err := c.roundTrip(ctx, Request{Kind: MsgAuthenticate, Username: username, KeyType: keyType, Password: password})
	return err
}

func (c *Client) SignDigest(ctx context.Context, username string, keyType authority.Level, digest crypto.Hash) (crypto.RecoverableSignature, error) {
	resp, err := c.roundTrip(ctx, Request{Kind: MsgSignDigest, Username: username, KeyType: keyType, Digest: digest})
	if err != nil {
		return crypto.RecoverableSignature{}, err
	}
	return resp.Signature, nil
}

func (c *Client) Logout(ctx context.Context, username string, keyType authority.Level) error {
	_, err := c.roundTrip(ctx, Request{Kind: MsgLogout, Username: username, KeyType: keyType})
	return err
}
