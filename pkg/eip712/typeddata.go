package eip712

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rojo-labs/txguard/pkg/domain"
)

// Field is one member of a struct type declaration.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Domain is the EIP-712 domain separator input. ChainID holds either a
// json.Number or a string exactly as received.
type Domain struct {
	Name              string `json:"name,omitempty"`
	Version           string `json:"version,omitempty"`
	ChainID           any    `json:"chainId,omitempty"`
	VerifyingContract string `json:"verifyingContract,omitempty"`
	Salt              string `json:"salt,omitempty"`
}

// TypedData is a signing request as submitted by a dApp. Missing sections stay
// nil so the inspector can report each one.
type TypedData struct {
	Types       map[string][]Field `json:"types"`
	PrimaryType string             `json:"primaryType"`
	Domain      *Domain            `json:"domain"`
	Message     map[string]any     `json:"message"`
}

// DecodeTypedData parses a typed-data document, keeping numbers as json.Number.
func DecodeTypedData(raw []byte) (TypedData, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var td TypedData
	if err := dec.Decode(&td); err != nil {
		return TypedData{}, fmt.Errorf("decode typed data: %w", err)
	}
	return td, nil
}

// ChainIDInt64 resolves the domain chain id, accepting numbers and decimal or
// hex strings.
func (d *Domain) ChainIDInt64() (int64, bool) {
	if d == nil {
		return 0, false
	}
	return chainIDInt64(d.ChainID)
}

func chainIDInt64(value any) (int64, bool) {
	text, ok := scalarText(value)
	if !ok {
		return 0, false
	}
	return domain.Quantity(text).Int64()
}

// hasChainID mirrors truthiness: absent, empty and zero chain ids are ignored.
func (d *Domain) hasChainID() bool {
	if d == nil || d.ChainID == nil {
		return false
	}
	text, ok := scalarText(d.ChainID)
	if !ok {
		return true
	}
	text = strings.TrimSpace(text)
	return text != "" && text != "0"
}

// scalarText renders strings and numbers as text.
func scalarText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return fmt.Sprintf("%.0f", v), v == float64(int64(v))
	case int:
		return fmt.Sprintf("%d", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	default:
		return "", false
	}
}
