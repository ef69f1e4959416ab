package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/freehandle/signon/util"
)

var ErrInvalidAsset = errors.New("invalid asset")

// Asset is an amount of a chain currency in its smallest unit.
type Asset struct {
	Amount    int64
	Precision uint8
	Symbol    string
}

type symbolInfo struct {
	precision uint8
	legacy    string
	nai       string
	number    uint32
}

// Native asset numbers sit above the SMT range, shifted past the precision
// bits.
const (
	maxSMTNumber = 99999999
	naiShift     = 5
)

func (s symbolInfo) assetNumber() uint32 {
	return (maxSMTNumber+s.number)<<naiShift | uint32(s.precision)
}

// Testnet symbols pack to the same NAI as their mainnet counterparts.
var symbols = map[string]symbolInfo{
	"HIVE":  {precision: 3, legacy: "STEEM", nai: "@@000000021", number: 2},
	"HBD":   {precision: 3, legacy: "SBD", nai: "@@000000013", number: 1},
	"VESTS": {precision: 6, legacy: "VESTS", nai: "@@000000037", number: 3},
	"TESTS": {precision: 3, legacy: "TESTS", nai: "@@000000021", number: 2},
	"TBD":   {precision: 3, legacy: "TBD", nai: "@@000000013", number: 1},
}

var legacyNames = map[string]string{
	"STEEM": "HIVE",
	"SBD":   "HBD",
}

var naiSymbols = map[string]string{
	"@@000000021": "HIVE",
	"@@000000013": "HBD",
	"@@000000037": "VESTS",
}

// ParseAsset reads the "0.001 HIVE" form. The number of decimals must match
// the symbol precision.
func ParseAsset(s string) (Asset, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	symbol := parts[1]
	if name, ok := legacyNames[symbol]; ok {
		symbol = name
	}
	info, ok := symbols[symbol]
	if !ok {
		return Asset{}, fmt.Errorf("%w: unknown symbol %q", ErrInvalidAsset, parts[1])
	}
	whole, fraction, _ := strings.Cut(parts[0], ".")
	if len(fraction) != int(info.precision) {
		return Asset{}, fmt.Errorf("%w: %q needs %d decimals", ErrInvalidAsset, s, info.precision)
	}
	amount, err := strconv.ParseInt(whole+fraction, 10, 64)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	return Asset{Amount: amount, Precision: info.precision, Symbol: symbol}, nil
}

func MustParseAsset(s string) Asset {
	asset, err := ParseAsset(s)
	if err != nil {
		panic(err)
	}
	return asset
}

func (a Asset) String() string {
	sign := ""
	amount := a.Amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	if a.Precision == 0 {
		return sign + digits + " " + a.Symbol
	}
	for len(digits) <= int(a.Precision) {
		digits = "0" + digits
	}
	split := len(digits) - int(a.Precision)
	return sign + digits[:split] + "." + digits[split:] + " " + a.Symbol
}

// Serialize writes the amount followed by the symbol. Legacy packs the
// precision and a seven byte name. HF26 packs the asset number, NAI plus
// the SMT range, with the precision in its low bits.
func (a Asset) Serialize(pack PackType, data *[]byte) {
	util.PutInt64(a.Amount, data)
	info := symbols[a.Symbol]
	if pack == Legacy {
		util.PutByte(a.Precision, data)
		name := make([]byte, 7)
		copy(name, info.legacy)
		*data = append(*data, name...)
		return
	}
	util.PutUint32(info.assetNumber(), data)
}

func (a Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

type naiAsset struct {
	Amount    string `json:"amount"`
	Precision uint8  `json:"precision"`
	NAI       string `json:"nai"`
}

// UnmarshalJSON accepts the legacy string and the NAI object forms.
func (a *Asset) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		asset, err := ParseAsset(text)
		if err != nil {
			return err
		}
		*a = asset
		return nil
	}
	var nai naiAsset
	if err := json.Unmarshal(data, &nai); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, data)
	}
	symbol, ok := naiSymbols[nai.NAI]
	if !ok {
		return fmt.Errorf("%w: unknown nai %q", ErrInvalidAsset, nai.NAI)
	}
	amount, err := strconv.ParseInt(nai.Amount, 10, 64)
	if err != nil || nai.Precision != symbols[symbol].precision {
		return fmt.Errorf("%w: %s", ErrInvalidAsset, data)
	}
	*a = Asset{Amount: amount, Precision: nai.Precision, Symbol: symbol}
	return nil
}
