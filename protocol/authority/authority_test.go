package authority

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/freehandle/signon/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	secret, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	return secret.PublicKey()
}

type accounts map[string]*Account

func (a accounts) GetAccount(ctx context.Context, name string) (*Account, error) {
	if account, ok := a[name]; ok {
		return account, nil
	}
	return nil, errors.New("account not found")
}

func TestSingleKeySatisfaction(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	auth := KeyAuthority(key)
	require.Equal(t, SingleKey, Classify(auth))

	tests := []struct {
		name   string
		signed []SignedKey
		want   bool
	}{
		{"listed key", []SignedKey{{key, true}}, true},
		{"listed key invalid signature", []SignedKey{{key, false}}, false},
		{"other key", []SignedKey{{other, true}}, false},
		{"other key and listed key", []SignedKey{{other, true}, {key, true}}, true},
		{"nothing signed", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Satisfies(auth, tt.signed))
			ok, err := Evaluate(context.Background(), auth, tt.signed, nil, Posting)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestEmptyAuthorityNeverSatisfied(t *testing.T) {
	key := newKey(t)
	signed := []SignedKey{{key, true}}
	for _, threshold := range []uint32{0, 1, 5} {
		auth := Authority{WeightThreshold: threshold}
		assert.Equal(t, Unsatisfiable, Classify(auth))
		assert.False(t, Satisfies(auth, signed))
		ok, err := Evaluate(context.Background(), auth, signed, accounts{}, Active)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestZeroThresholdNeverSatisfied(t *testing.T) {
	key := newKey(t)
	auth := Authority{WeightThreshold: 0, KeyAuths: []KeyWeight{{key, 1}}}
	assert.Equal(t, Unsatisfiable, Classify(auth))
	assert.False(t, Satisfies(auth, []SignedKey{{key, true}}))
}

func TestWeightedThreshold(t *testing.T) {
	a, b, c := newKey(t), newKey(t), newKey(t)
	auth := Authority{WeightThreshold: 3, KeyAuths: []KeyWeight{{a, 1}, {b, 2}, {c, 1}}}
	require.Equal(t, Weighted, Classify(auth))

	assert.False(t, Satisfies(auth, []SignedKey{{a, true}}))
	assert.False(t, Satisfies(auth, []SignedKey{{a, true}, {c, true}}))
	assert.True(t, Satisfies(auth, []SignedKey{{a, true}, {b, true}}))
	assert.False(t, Satisfies(auth, []SignedKey{{a, true}, {a, true}, {a, true}}), "a key counts once")
	assert.False(t, Satisfies(auth, []SignedKey{{a, true}, {b, false}}))
}

func TestUnreachableThreshold(t *testing.T) {
	a := newKey(t)
	auth := Authority{WeightThreshold: 2, KeyAuths: []KeyWeight{{a, 1}}}
	assert.Equal(t, Unsatisfiable, Classify(auth))
	assert.False(t, Satisfies(auth, []SignedKey{{a, true}}))
}

func TestAccountAuthsRecursion(t *testing.T) {
	aliceKey, bobKey, carolKey := newKey(t), newKey(t), newKey(t)
	lookup := accounts{
		"bob": {Name: "bob", Active: KeyAuthority(bobKey), Posting: KeyAuthority(bobKey)},
		"carol": {Name: "carol", Posting: Authority{
			WeightThreshold: 1,
			AccountAuths:    []AccountWeight{{"dave", 1}},
		}},
		"dave": {Name: "dave", Posting: Authority{
			WeightThreshold: 1,
			AccountAuths:    []AccountWeight{{"erin", 1}},
		}},
		"erin": {Name: "erin", Posting: KeyAuthority(carolKey)},
	}
	auth := Authority{
		WeightThreshold: 2,
		KeyAuths:        []KeyWeight{{aliceKey, 1}},
		AccountAuths:    []AccountWeight{{"bob", 1}, {"carol", 1}},
	}
	ctx := context.Background()

	ok, err := Evaluate(ctx, auth, []SignedKey{{aliceKey, true}, {bobKey, true}}, lookup, Posting)
	require.NoError(t, err)
	assert.True(t, ok, "alice key plus bob account reach the threshold")

	assert.False(t, Satisfies(auth, []SignedKey{{aliceKey, true}, {bobKey, true}}), "Satisfies refuses account_auths")

	ok, err = Evaluate(ctx, auth, []SignedKey{{aliceKey, true}, {carolKey, true}}, lookup, Posting)
	require.NoError(t, err)
	assert.False(t, ok, "carol resolves three levels down, beyond the depth limit")

	ok, err = Evaluate(ctx, auth, []SignedKey{{bobKey, true}}, lookup, Posting)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountAuthsCycle(t *testing.T) {
	key := newKey(t)
	lookup := accounts{
		"a": {Name: "a", Active: Authority{WeightThreshold: 1, AccountAuths: []AccountWeight{{"b", 1}}}},
		"b": {Name: "b", Active: Authority{WeightThreshold: 1, AccountAuths: []AccountWeight{{"a", 1}}}},
	}
	auth := Authority{WeightThreshold: 1, AccountAuths: []AccountWeight{{"a", 1}}}
	ok, err := Evaluate(context.Background(), auth, []SignedKey{{key, true}}, lookup, Active)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountLookupFailure(t *testing.T) {
	key := newKey(t)
	auth := Authority{WeightThreshold: 1, AccountAuths: []AccountWeight{{"ghost", 1}}}
	_, err := Evaluate(context.Background(), auth, []SignedKey{{key, true}}, accounts{}, Active)
	assert.Error(t, err)
}

func TestAccountJSON(t *testing.T) {
	key := newKey(t)
	raw := `{
		"name": "alice",
		"owner": {"weight_threshold": 1, "account_auths": [], "key_auths": [["` + key.String() + `", 1]]},
		"active": {"weight_threshold": 1, "account_auths": [["bob", 1]], "key_auths": [["` + key.String() + `", 1]]},
		"posting": {"weight_threshold": 1, "account_auths": [], "key_auths": [["` + key.String() + `", 1]]},
		"memo_key": "` + key.String() + `",
		"json_metadata": "",
		"posting_json_metadata": "{\"profile\":{\"name\":\"Alice\",\"profile_image\":\"https://example.com/a.png\"}}"
	}`
	var account Account
	require.NoError(t, json.Unmarshal([]byte(raw), &account))
	assert.Equal(t, "alice", account.Name)
	assert.True(t, account.Posting.Lists(key))
	assert.Equal(t, "bob", account.Active.AccountAuths[0].Account)
	assert.Equal(t, []Level{Owner, Active, Posting, Memo}, account.LevelsForKey(key))
	assert.Equal(t, "https://example.com/a.png", account.Profile().ProfileImage)

	_, ok := account.Authority(Memo)
	assert.False(t, ok)

	encoded, err := json.Marshal(account.Posting)
	require.NoError(t, err)
	assert.JSONEq(t, `{"weight_threshold":1,"account_auths":[],"key_auths":[["`+key.String()+`",1]]}`, string(encoded))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("posting")
	require.NoError(t, err)
	assert.Equal(t, Posting, level)
	_, err = ParseLevel("admin")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}
