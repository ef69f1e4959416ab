package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/util"
)

// Chain operation ids, the position of the operation in the chain's
// operation variant.
const (
	VoteID       uint64 = 0
	TransferID   uint64 = 2
	CustomJSONID uint64 = 18
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Requirement names an account whose authority at Level must sign.
type Requirement struct {
	Account string
	Level   authority.Level
}

type Operation interface {
	Name() string
	ID() uint64
	Serialize(pack PackType, data *[]byte)
	RequiredAuthorities() []Requirement
	Validate() error
}

type Vote struct {
	Voter    string `json:"voter"`
	Author   string `json:"author"`
	Permlink string `json:"permlink"`
	Weight   int16  `json:"weight"`
}

func (v *Vote) Name() string { return "vote" }

func (v *Vote) ID() uint64 { return VoteID }

func (v *Vote) Serialize(pack PackType, data *[]byte) {
	util.PutVarString(v.Voter, data)
	util.PutVarString(v.Author, data)
	util.PutVarString(v.Permlink, data)
	util.PutInt16(v.Weight, data)
}

func (v *Vote) RequiredAuthorities() []Requirement {
	return []Requirement{{Account: v.Voter, Level: authority.Posting}}
}

func (v *Vote) Validate() error {
	if v.Voter == "" || v.Author == "" {
		return fmt.Errorf("%w: vote needs voter and author", ErrInvalidOperation)
	}
	if v.Weight > 10000 || v.Weight < -10000 {
		return fmt.Errorf("%w: vote weight %d out of range", ErrInvalidOperation, v.Weight)
	}
	return nil
}

type Transfer struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount Asset  `json:"amount"`
	Memo   string `json:"memo"`
}

func (t *Transfer) Name() string { return "transfer" }

func (t *Transfer) ID() uint64 { return TransferID }

func (t *Transfer) Serialize(pack PackType, data *[]byte) {
	util.PutVarString(t.From, data)
	util.PutVarString(t.To, data)
	t.Amount.Serialize(pack, data)
	util.PutVarString(t.Memo, data)
}

func (t *Transfer) RequiredAuthorities() []Requirement {
	return []Requirement{{Account: t.From, Level: authority.Active}}
}

func (t *Transfer) Validate() error {
	if t.From == "" || t.To == "" {
		return fmt.Errorf("%w: transfer needs from and to", ErrInvalidOperation)
	}
	if _, ok := symbols[t.Amount.Symbol]; !ok || t.Amount.Amount < 0 {
		return fmt.Errorf("%w: transfer amount %s", ErrInvalidOperation, t.Amount)
	}
	return nil
}

type CustomJSON struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	Identifier           string   `json:"id"`
	JSON                 string   `json:"json"`
}

func (c *CustomJSON) Name() string { return "custom_json" }

func (c *CustomJSON) ID() uint64 { return CustomJSONID }

func (c *CustomJSON) Serialize(pack PackType, data *[]byte) {
	putVarStrings(c.RequiredAuths, data)
	putVarStrings(c.RequiredPostingAuths, data)
	util.PutVarString(c.Identifier, data)
	util.PutVarString(c.JSON, data)
}

func (c *CustomJSON) RequiredAuthorities() []Requirement {
	required := make([]Requirement, 0, len(c.RequiredAuths)+len(c.RequiredPostingAuths))
	for _, account := range c.RequiredAuths {
		required = append(required, Requirement{Account: account, Level: authority.Active})
	}
	for _, account := range c.RequiredPostingAuths {
		required = append(required, Requirement{Account: account, Level: authority.Posting})
	}
	return required
}

func (c *CustomJSON) Validate() error {
	if len(c.RequiredAuths)+len(c.RequiredPostingAuths) == 0 {
		return fmt.Errorf("%w: custom_json needs at least one required authority", ErrInvalidOperation)
	}
	if len(c.Identifier) > 32 {
		return fmt.Errorf("%w: custom_json id longer than 32 characters", ErrInvalidOperation)
	}
	if !json.Valid([]byte(c.JSON)) {
		return fmt.Errorf("%w: custom_json payload is not json", ErrInvalidOperation)
	}
	return nil
}

func putVarStrings(values []string, data *[]byte) {
	util.PutVarint(uint64(len(values)), data)
	for _, value := range values {
		util.PutVarString(value, data)
	}
}

func newOperation(name string) (Operation, error) {
	switch name {
	case "vote":
		return &Vote{}, nil
	case "transfer":
		return &Transfer{}, nil
	case "custom_json":
		return &CustomJSON{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
}

func marshalOperation(op Operation) (json.RawMessage, error) {
	return json.Marshal([]any{op.Name(), op})
}

// unmarshalOperation reads the ["name", {...}] pair.
func unmarshalOperation(data []byte) (Operation, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperation, data)
	}
	var name string
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperation, data)
	}
	op, err := newOperation(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pair[1], op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return op, nil
}
