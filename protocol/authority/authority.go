// Package authority holds the weighted threshold permission model of chain
// accounts and decides whether a set of signing keys satisfies it.
package authority

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/freehandle/signon/crypto"
)

type Level string

const (
	Owner   Level = "owner"
	Active  Level = "active"
	Posting Level = "posting"
	Memo    Level = "memo"
)

var ErrUnknownLevel = errors.New("unknown permission level")

func ParseLevel(s string) (Level, error) {
	switch level := Level(s); level {
	case Owner, Active, Posting, Memo:
		return level, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

func (l Level) String() string {
	return string(l)
}

// KeyWeight is encoded on chain as ["STM...", weight].
type KeyWeight struct {
	Key    crypto.PublicKey
	Weight uint16
}

func (k KeyWeight) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{k.Key.String(), k.Weight})
}

func (k *KeyWeight) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("invalid key weight: %s", data)
	}
	if err := json.Unmarshal(pair[0], &k.Key); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &k.Weight)
}

// AccountWeight is encoded on chain as ["name", weight].
type AccountWeight struct {
	Account string
	Weight  uint16
}

func (a AccountWeight) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Account, a.Weight})
}

func (a *AccountWeight) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("invalid account weight: %s", data)
	}
	if err := json.Unmarshal(pair[0], &a.Account); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Weight)
}

type Authority struct {
	WeightThreshold uint32          `json:"weight_threshold"`
	AccountAuths    []AccountWeight `json:"account_auths"`
	KeyAuths        []KeyWeight     `json:"key_auths"`
}

// KeyAuthority builds the common threshold one authority of a single key.
func KeyAuthority(key crypto.PublicKey) Authority {
	return Authority{
		WeightThreshold: 1,
		AccountAuths:    []AccountWeight{},
		KeyAuths:        []KeyWeight{{Key: key, Weight: 1}},
	}
}

func (a Authority) IsEmpty() bool {
	return len(a.KeyAuths) == 0 && len(a.AccountAuths) == 0
}

// KeyWeight returns the weight a key carries directly, zero when unlisted.
func (a Authority) KeyWeight(key crypto.PublicKey) uint16 {
	for _, auth := range a.KeyAuths {
		if auth.Key.Equal(key) {
			return auth.Weight
		}
	}
	return 0
}

func (a Authority) Lists(key crypto.PublicKey) bool {
	return a.KeyWeight(key) > 0
}

type Profile struct {
	Name         string `json:"name"`
	About        string `json:"about"`
	ProfileImage string `json:"profile_image"`
}

// Account is the subset of a chain account that authorisation needs.
type Account struct {
	Name                string           `json:"name"`
	Owner               Authority        `json:"owner"`
	Active              Authority        `json:"active"`
	Posting             Authority        `json:"posting"`
	MemoKey             crypto.PublicKey `json:"memo_key"`
	JSONMetadata        string           `json:"json_metadata"`
	PostingJSONMetadata string           `json:"posting_json_metadata"`
}

// Authority returns the authority at level. The memo level has a single key
// and no authority.
func (a *Account) Authority(level Level) (Authority, bool) {
	switch level {
	case Owner:
		return a.Owner, true
	case Active:
		return a.Active, true
	case Posting:
		return a.Posting, true
	}
	return Authority{}, false
}

// LevelsForKey lists the levels at which key is directly listed.
func (a *Account) LevelsForKey(key crypto.PublicKey) []Level {
	levels := make([]Level, 0)
	for _, level := range []Level{Owner, Active, Posting} {
		auth, _ := a.Authority(level)
		if auth.Lists(key) {
			levels = append(levels, level)
		}
	}
	if a.MemoKey.Equal(key) {
		levels = append(levels, Memo)
	}
	return levels
}

// Profile reads the profile from posting metadata, falling back to the older
// json metadata. Malformed metadata gives an empty profile.
func (a *Account) Profile() Profile {
	for _, metadata := range []string{a.PostingJSONMetadata, a.JSONMetadata} {
		if metadata == "" {
			continue
		}
		var wrapper struct {
			Profile Profile `json:"profile"`
		}
		if err := json.Unmarshal([]byte(metadata), &wrapper); err == nil && wrapper.Profile != (Profile{}) {
			return wrapper.Profile
		}
	}
	return Profile{}
}
