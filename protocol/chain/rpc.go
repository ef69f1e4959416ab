package chain

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/pkg/errors"
)

const (
	methodGetAccounts      = "condenser_api.get_accounts"
	methodVerifyAuthority  = "condenser_api.verify_authority"
	methodGetKeyReferences = "condenser_api.get_key_references"
)

var errClientClosed = errors.New("chain client is closed")

// RPCClient talks JSON-RPC to a chain node. The node serialises transactions
// from their JSON form, so the pack type is not sent; it is the caller's job
// to use the layout the node expects.
type RPCClient struct {
	mu       sync.Mutex
	client   *rpc.Client
	endpoint string
	closed   bool
}

func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{endpoint: endpoint}
}

// maybeDial dials the endpoint if it was not already.
func (c *RPCClient) maybeDial(ctx context.Context) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClientClosed
	}
	if c.client != nil {
		return c.client, nil
	}
	client, err := rpc.DialContext(ctx, c.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.endpoint)
	}
	c.client = client
	return client, nil
}

func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
	}
	c.closed = true
}

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	client, err := c.maybeDial(ctx)
	if err != nil {
		return err
	}
	if err := client.CallContext(ctx, result, method, args...); err != nil {
		return errors.Wrap(err, method)
	}
	return nil
}

func (c *RPCClient) GetAccount(ctx context.Context, name string) (*authority.Account, error) {
	var accounts []authority.Account
	if err := c.call(ctx, &accounts, methodGetAccounts, []string{name}); err != nil {
		return nil, err
	}
	if len(accounts) == 0 || accounts[0].Name != name {
		return nil, ErrAccountNotFound
	}
	return &accounts[0], nil
}

// VerifyAuthority maps a node side rejection (a JSON-RPC error object) to
// false. Transport failures are returned as errors.
func (c *RPCClient) VerifyAuthority(ctx context.Context, tx *protocol.Transaction, pack protocol.PackType) (bool, error) {
	var valid bool
	err := c.call(ctx, &valid, methodVerifyAuthority, tx)
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		slog.Info("chain rejected authority", "code", rpcErr.ErrorCode(), "error", rpcErr.Error())
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return valid, nil
}

func (c *RPCClient) GetKeyReferences(ctx context.Context, keys []crypto.PublicKey) ([][]string, error) {
	var references [][]string
	if err := c.call(ctx, &references, methodGetKeyReferences, keys); err != nil {
		return nil, err
	}
	if len(references) != len(keys) {
		return nil, errors.Errorf("%s: %d results for %d keys", methodGetKeyReferences, len(references), len(keys))
	}
	return references, nil
}
