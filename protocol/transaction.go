// Package protocol encodes chain transactions and derives the digest their
// signatures commit to.
package protocol

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/freehandle/signon/crypto"
	"github.com/freehandle/signon/util"
)

// PackType selects how assets are packed into the wire bytes. Legacy tools
// sign over the pre HF26 layout, so signer and verifier must agree on it.
type PackType uint8

const (
	HF26 PackType = iota
	Legacy
)

var ErrUnknownPackType = errors.New("unknown pack type")

func (p PackType) String() string {
	if p == Legacy {
		return "legacy"
	}
	return "hf26"
}

func ParsePackType(s string) (PackType, error) {
	switch strings.ToLower(s) {
	case "", "hf26", "hf_26":
		return HF26, nil
	case "legacy":
		return Legacy, nil
	}
	return HF26, fmt.Errorf("%w: %q", ErrUnknownPackType, s)
}

func (p PackType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PackType) UnmarshalText(text []byte) error {
	pack, err := ParsePackType(string(text))
	if err != nil {
		return err
	}
	*p = pack
	return nil
}

// MainnetChainID is the Hive mainnet chain id.
var MainnetChainID = crypto.Hash{0xbe, 0xea, 0xb0, 0xde}

const timeLayout = "2006-01-02T15:04:05"

var (
	ErrNoOperations       = errors.New("transaction has no operations")
	ErrExtensionsNotEmpty = errors.New("transaction extensions are not supported")
)

type Transaction struct {
	RefBlockNum    uint16
	RefBlockPrefix uint32
	Expiration     time.Time
	Operations     []Operation
	Extensions     []json.RawMessage
	Signatures     []string
}

// Serialize returns the wire bytes signatures commit to. Signatures are not
// part of them.
func (t *Transaction) Serialize(pack PackType) []byte {
	data := make([]byte, 0)
	util.PutUint16(t.RefBlockNum, &data)
	util.PutUint32(t.RefBlockPrefix, &data)
	util.PutUnixTime(t.Expiration, &data)
	util.PutVarint(uint64(len(t.Operations)), &data)
	for _, op := range t.Operations {
		util.PutVarint(op.ID(), &data)
		op.Serialize(pack, &data)
	}
	util.PutVarint(uint64(len(t.Extensions)), &data)
	return data
}

// Digest is sha256(chainID || wire bytes).
func Digest(tx *Transaction, chainID crypto.Hash, pack PackType) crypto.Hash {
	data := append(chainID[:], tx.Serialize(pack)...)
	return crypto.Hasher(data)
}

func (t *Transaction) Digest(chainID crypto.Hash, pack PackType) crypto.Hash {
	return Digest(t, chainID, pack)
}

// ID is the first twenty bytes of sha256 over the wire bytes, hex encoded.
func (t *Transaction) ID(pack PackType) string {
	sum := sha256.Sum256(t.Serialize(pack))
	return fmt.Sprintf("%x", sum[:20])
}

// Validate checks the transaction is well formed.
func (t *Transaction) Validate() error {
	if len(t.Operations) == 0 {
		return ErrNoOperations
	}
	if len(t.Extensions) > 0 {
		return ErrExtensionsNotEmpty
	}
	for _, op := range t.Operations {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RequiredAuthorities lists each account and level once, in operation order.
func (t *Transaction) RequiredAuthorities() []Requirement {
	seen := make(util.Set[Requirement])
	required := make([]Requirement, 0)
	for _, op := range t.Operations {
		for _, requirement := range op.RequiredAuthorities() {
			if !seen.Has(requirement) {
				seen.Add(requirement)
				required = append(required, requirement)
			}
		}
	}
	return required
}

// Sign appends a signature by key over the transaction digest.
func (t *Transaction) Sign(key crypto.SecretKey, chainID crypto.Hash, pack PackType) (crypto.RecoverableSignature, error) {
	signature, err := key.Sign(t.Digest(chainID, pack))
	if err != nil {
		return signature, err
	}
	t.Signatures = append(t.Signatures, signature.String())
	return signature, nil
}

// RecoverableSignatures parses the hex signatures.
func (t *Transaction) RecoverableSignatures() ([]crypto.RecoverableSignature, error) {
	signatures := make([]crypto.RecoverableSignature, 0, len(t.Signatures))
	for _, text := range t.Signatures {
		signature, err := crypto.SignatureFromHex(text)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, signature)
	}
	return signatures, nil
}

type transactionJSON struct {
	RefBlockNum    uint16            `json:"ref_block_num"`
	RefBlockPrefix uint32            `json:"ref_block_prefix"`
	Expiration     string            `json:"expiration"`
	Operations     []json.RawMessage `json:"operations"`
	Extensions     []json.RawMessage `json:"extensions"`
	Signatures     []string          `json:"signatures"`
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		RefBlockNum:    t.RefBlockNum,
		RefBlockPrefix: t.RefBlockPrefix,
		Expiration:     t.Expiration.UTC().Format(timeLayout),
		Operations:     make([]json.RawMessage, 0, len(t.Operations)),
		Extensions:     t.Extensions,
		Signatures:     t.Signatures,
	}
	if out.Extensions == nil {
		out.Extensions = []json.RawMessage{}
	}
	if out.Signatures == nil {
		out.Signatures = []string{}
	}
	for _, op := range t.Operations {
		raw, err := marshalOperation(op)
		if err != nil {
			return nil, err
		}
		out.Operations = append(out.Operations, raw)
	}
	return json.Marshal(out)
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var in transactionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	expiration, err := time.ParseInLocation(timeLayout, in.Expiration, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid expiration %q: %w", in.Expiration, err)
	}
	operations := make([]Operation, 0, len(in.Operations))
	for _, raw := range in.Operations {
		op, err := unmarshalOperation(raw)
		if err != nil {
			return err
		}
		operations = append(operations, op)
	}
	*t = Transaction{
		RefBlockNum:    in.RefBlockNum,
		RefBlockPrefix: in.RefBlockPrefix,
		Expiration:     expiration,
		Operations:     operations,
		Extensions:     in.Extensions,
		Signatures:     in.Signatures,
	}
	return nil
}

// ParseTransaction reads the chain JSON form.
func ParseTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
