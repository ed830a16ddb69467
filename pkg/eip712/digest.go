package eip712

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SigningHash computes keccak256(0x19 0x01 || domainSeparator || hashStruct(message)),
// the digest a wallet signs for td. It reports false when the document cannot
// be hashed.
func SigningHash(td TypedData) (digest string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			digest, ok = "", false
		}
	}()

	converted, err := toAPITypes(td)
	if err != nil {
		return "", false
	}

	domainSeparator, err := converted.HashStruct("EIP712Domain", converted.Domain.Map())
	if err != nil {
		return "", false
	}
	messageHash, err := converted.HashStruct(converted.PrimaryType, converted.Message)
	if err != nil {
		return "", false
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return hexutil.Encode(crypto.Keccak256(raw)), true
}

func toAPITypes(td TypedData) (apitypes.TypedData, error) {
	if td.Domain == nil {
		return apitypes.TypedData{}, fmt.Errorf("missing domain")
	}

	types := make(apitypes.Types, len(td.Types))
	for name, fields := range td.Types {
		converted := make([]apitypes.Type, 0, len(fields))
		for _, field := range fields {
			converted = append(converted, apitypes.Type{Name: field.Name, Type: field.Type})
		}
		types[name] = converted
	}

	apiDomain := apitypes.TypedDataDomain{
		Name:              td.Domain.Name,
		Version:           td.Domain.Version,
		VerifyingContract: td.Domain.VerifyingContract,
		Salt:              td.Domain.Salt,
	}
	if td.Domain.ChainID != nil {
		text, ok := scalarText(td.Domain.ChainID)
		if !ok {
			return apitypes.TypedData{}, fmt.Errorf("chain id %v is not numeric", td.Domain.ChainID)
		}
		chainID, ok := math.ParseBig256(text)
		if !ok {
			return apitypes.TypedData{}, fmt.Errorf("chain id %q is not numeric", text)
		}
		apiDomain.ChainId = (*math.HexOrDecimal256)(chainID)
	}

	message, _ := normalizeNumbers(td.Message).(map[string]any)
	return apitypes.TypedData{
		Types:       types,
		PrimaryType: td.PrimaryType,
		Domain:      apiDomain,
		Message:     message,
	}, nil
}

// normalizeNumbers rewrites json.Number values as strings, the form the
// go-ethereum encoder parses without loss.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		return v.String()
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeNumbers(item)
		}
		return out
	default:
		return value
	}
}
