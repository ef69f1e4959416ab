package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/protocol"
	"github.com/freehandle/signon/protocol/authority"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(t *testing.T, name string) (*authority.Account, crypto.SecretKey) {
	t.Helper()
	key, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	return &authority.Account{
		Name:    name,
		Owner:   authority.KeyAuthority(key.PublicKey()),
		Active:  authority.KeyAuthority(key.PublicKey()),
		Posting: authority.KeyAuthority(key.PublicKey()),
		MemoKey: key.PublicKey(),
	}, key
}

func voteBy(voter string) *protocol.Transaction {
	return &protocol.Transaction{
		Expiration: time.Unix(3600, 0).UTC(),
		Operations: []protocol.Operation{&protocol.Vote{Voter: voter, Author: voter, Permlink: "abc123"}},
	}
}

func TestMemoryVerifyAuthority(t *testing.T) {
	chain := NewMemory(protocol.MainnetChainID)
	alice, aliceKey := newAccount(t, "alice")
	bob, bobKey := newAccount(t, "bob")
	chain.AddAccount(alice)
	chain.AddAccount(bob)
	ctx := context.Background()

	tests := []struct {
		name  string
		voter string
		key   crypto.SecretKey
		pack  protocol.PackType
		want  bool
	}{
		{"own key", "alice", aliceKey, protocol.HF26, true},
		{"foreign key", "alice", bobKey, protocol.HF26, false},
		{"unknown account", "carol", aliceKey, protocol.HF26, false},
		{"legacy pack", "bob", bobKey, protocol.Legacy, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := voteBy(tt.voter)
			_, err := tx.Sign(tt.key, protocol.MainnetChainID, tt.pack)
			require.NoError(t, err)
			valid, err := chain.VerifyAuthority(ctx, tx, tt.pack)
			require.NoError(t, err)
			assert.Equal(t, tt.want, valid)
		})
	}

	unsigned := voteBy("alice")
	valid, err := chain.VerifyAuthority(ctx, unsigned, protocol.HF26)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestMemoryActiveKeySatisfiesPosting(t *testing.T) {
	chain := NewMemory(protocol.MainnetChainID)
	alice, _ := newAccount(t, "alice")
	activeKey, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	alice.Active = authority.KeyAuthority(activeKey.PublicKey())
	chain.AddAccount(alice)

	tx := voteBy("alice")
	_, err = tx.Sign(activeKey, chain.ChainID(), protocol.HF26)
	require.NoError(t, err)
	valid, err := chain.VerifyAuthority(context.Background(), tx, protocol.HF26)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestMemoryKeyReferences(t *testing.T) {
	chain := NewMemory(protocol.MainnetChainID)
	alice, aliceKey := newAccount(t, "alice")
	bob, _ := newAccount(t, "bob")
	bob.Posting = authority.KeyAuthority(aliceKey.PublicKey())
	chain.AddAccount(alice)
	chain.AddAccount(bob)
	stranger, _ := crypto.GenerateSecretKey()

	references, err := chain.GetKeyReferences(context.Background(), []crypto.PublicKey{aliceKey.PublicKey(), stranger.PublicKey()})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"alice", "bob"}, {}}, references)

	_, err = chain.GetAccount(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func fakeNode(t *testing.T, handle func(method string, params []json.RawMessage) (any, *rpcErrorObject)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handle(req.Method, req.Params)
		response := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			response["error"] = rpcErr
		} else {
			response["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
}

type rpcErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestRPCClient(t *testing.T) {
	alice, aliceKey := newAccount(t, "alice")
	node := fakeNode(t, func(method string, params []json.RawMessage) (any, *rpcErrorObject) {
		switch method {
		case methodGetAccounts:
			var names []string
			json.Unmarshal(params[0], &names)
			if len(names) == 1 && names[0] == "alice" {
				return []*authority.Account{alice}, nil
			}
			return []*authority.Account{}, nil
		case methodVerifyAuthority:
			tx, err := protocol.ParseTransaction(params[0])
			if err != nil || len(tx.Signatures) == 0 {
				return nil, &rpcErrorObject{Code: -32000, Message: "missing required posting authority"}
			}
			return true, nil
		case methodGetKeyReferences:
			var keys []string
			json.Unmarshal(params[0], &keys)
			out := make([][]string, len(keys))
			for n, key := range keys {
				out[n] = []string{}
				if key == aliceKey.PublicKey().String() {
					out[n] = []string{"alice"}
				}
			}
			return out, nil
		}
		return nil, &rpcErrorObject{Code: -32601, Message: "method not found"}
	})
	defer node.Close()

	client := NewRPCClient(node.URL)
	defer client.Close()
	ctx := context.Background()

	account, err := client.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, account.Posting.Lists(aliceKey.PublicKey()))

	_, err = client.GetAccount(ctx, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	tx := voteBy("alice")
	valid, err := client.VerifyAuthority(ctx, tx, protocol.HF26)
	require.NoError(t, err)
	assert.False(t, valid, "node error object means invalid")

	_, err = tx.Sign(aliceKey, protocol.MainnetChainID, protocol.HF26)
	require.NoError(t, err)
	valid, err = client.VerifyAuthority(ctx, tx, protocol.HF26)
	require.NoError(t, err)
	assert.True(t, valid)

	references, err := client.GetKeyReferences(ctx, []crypto.PublicKey{aliceKey.PublicKey()})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"alice"}}, references)
}

func TestRPCClientClosed(t *testing.T) {
	client := NewRPCClient("http://127.0.0.1:1")
	client.Close()
	_, err := client.GetAccount(context.Background(), "alice")
	assert.ErrorIs(t, err, errClientClosed)
}
