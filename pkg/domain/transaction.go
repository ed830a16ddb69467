package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Quantity is a non-negative integer carried as text. It accepts a JSON number
// or a JSON string holding a decimal or 0x-prefixed hexadecimal value, and keeps
// the original spelling so large wei amounts never pass through float64.
type Quantity string

var errEmptyQuantity = errors.New("quantity is empty")

// UnmarshalJSON accepts numbers, strings and null.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*q = Quantity(strings.TrimSpace(text))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("quantity must be a number or string: %w", err)
	}
	*q = Quantity(number.String())
	return nil
}

// IsZero reports whether the quantity was omitted.
func (q Quantity) IsZero() bool {
	return q == ""
}

// BigInt parses the quantity as an arbitrary-precision unsigned integer.
func (q Quantity) BigInt() (*big.Int, error) {
	return ParseUint(string(q))
}

// Int64 parses the quantity and reports whether it fits in an int64.
func (q Quantity) Int64() (int64, bool) {
	value, err := q.BigInt()
	if err != nil || !value.IsInt64() {
		return 0, false
	}
	return value.Int64(), true
}

// ParseUint parses a non-negative decimal or 0x-prefixed hexadecimal integer of
// any size.
func ParseUint(text string) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyQuantity
	}

	base := 10
	digits := text
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		base = 16
		digits = digits[2:]
	}
	if digits == "" || strings.ContainsAny(digits, "+-_") {
		return nil, fmt.Errorf("invalid unsigned integer %q", text)
	}

	value, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("invalid unsigned integer %q", text)
	}
	return value, nil
}

// Transaction is the candidate EVM transaction submitted for a policy decision.
// It is supplied by callers and never modified.
type Transaction struct {
	To      string   `json:"to,omitempty" yaml:"to,omitempty"`
	Value   Quantity `json:"value,omitempty" yaml:"value,omitempty"`
	Data    string   `json:"data,omitempty" yaml:"data,omitempty"`
	ChainID Quantity `json:"chainId,omitempty" yaml:"chainId,omitempty"`
}

// WeiValue returns the transferred value in wei. An omitted value counts as zero.
func (tx Transaction) WeiValue() (*big.Int, error) {
	if tx.Value.IsZero() {
		return new(big.Int), nil
	}
	value, err := tx.Value.BigInt()
	if err != nil {
		return nil, fmt.Errorf("transaction value: %w", err)
	}
	return value, nil
}
