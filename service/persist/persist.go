package persist

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/ksuid"
	"github.com/shopspring/decimal"
)

// ZeroAddress is the all-zero Ethereum address
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// etherDecimals is the number of decimals of the native coin
const etherDecimals = 18

// DBID represents a database ID
type DBID string

// Address represents an Ethereum address. It is always stored lowercased.
type Address string

// TxHash represents the hash of a confirmed transaction
type TxHash string

// GenerateID generates a application-wide unique ID
func GenerateID() DBID {
	return DBID(ksuid.New().String())
}

func (d DBID) String() string {
	return string(d)
}

// Value implements the driver.Valuer interface for the DBID type
func (d DBID) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan implements the database/sql Scanner interface for the DBID type
func (d *DBID) Scan(i interface{}) error {
	if i == nil {
		*d = ""
		return nil
	}
	switch v := i.(type) {
	case string:
		*d = DBID(v)
	case []byte:
		*d = DBID(string(v))
	default:
		return fmt.Errorf("invalid DBID: %v - %T", i, i)
	}
	return nil
}

// NewAddress normalizes a hex address
func NewAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

// AddressFrom converts a go-ethereum address
func AddressFrom(a common.Address) Address {
	return NewAddress(a.Hex())
}

func (a Address) String() string {
	return strings.ToLower(string(a))
}

// Address returns the go-ethereum representation of the address
func (a Address) Address() common.Address {
	return common.HexToAddress(a.String())
}

// IsValid reports whether the address is a well formed 20 byte hex address
func (a Address) IsValid() bool {
	return common.IsHexAddress(string(a)) && strings.HasPrefix(string(a), "0x")
}

// Equal compares addresses case-insensitively
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

// Value implements the driver.Valuer interface for the Address type
func (a Address) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements the database/sql Scanner interface for the Address type
func (a *Address) Scan(i interface{}) error {
	if i == nil {
		*a = ""
		return nil
	}
	switch v := i.(type) {
	case string:
		*a = NewAddress(v)
	case []byte:
		*a = NewAddress(string(v))
	default:
		return fmt.Errorf("invalid address: %v - %T", i, i)
	}
	return nil
}

// UnmarshalJSON normalizes addresses read from requests
func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*a = NewAddress(s)
	return nil
}

func (h TxHash) String() string {
	return strings.ToLower(string(h))
}

// Hash returns the go-ethereum representation of the hash
func (h TxHash) Hash() common.Hash {
	return common.HexToHash(h.String())
}

// TxHashFrom converts a go-ethereum hash
func TxHashFrom(h common.Hash) TxHash {
	return TxHash(strings.ToLower(h.Hex()))
}

// ParseEther converts a decimal amount of the native coin (e.g. "1.5") into wei
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: must not be negative", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimals", s, etherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal amount of the native coin
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// IsZero reports whether an amount is absent or zero
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}
