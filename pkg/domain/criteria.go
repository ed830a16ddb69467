package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// CriterionType discriminates the criterion variants.
type CriterionType string

// Criterion variants.
const (
	CriterionEthValue     CriterionType = "ethValue"
	CriterionEvmAddress   CriterionType = "evmAddress"
	CriterionEvmNetwork   CriterionType = "evmNetwork"
	CriterionNetUSDChange CriterionType = "netUSDChange"
	CriterionEvmData      CriterionType = "evmData"
)

// ComparisonOperator orders two integers.
type ComparisonOperator string

// Comparison operators.
const (
	OpGreater        ComparisonOperator = ">"
	OpGreaterOrEqual ComparisonOperator = ">="
	OpLess           ComparisonOperator = "<"
	OpLessOrEqual    ComparisonOperator = "<="
	OpEqual          ComparisonOperator = "=="
)

// Compare applies the operator to the result of a.Cmp(b).
func (op ComparisonOperator) Compare(a, b *big.Int) bool {
	cmp := a.Cmp(b)
	switch op {
	case OpGreater:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	case OpEqual:
		return cmp == 0
	default:
		return false
	}
}

// MembershipOperator tests set membership.
type MembershipOperator string

// Membership operators.
const (
	OpIn    MembershipOperator = "in"
	OpNotIn MembershipOperator = "not in"
)

// Apply turns a membership observation into a match.
func (op MembershipOperator) Apply(member bool) bool {
	if op == OpNotIn {
		return !member
	}
	return member
}

// Criterion is one condition of a rule. The set of implementations is closed.
type Criterion interface {
	Type() CriterionType
	isCriterion()
}

// EthValueCriterion compares the transferred wei amount against a threshold.
type EthValueCriterion struct {
	EthValue string             `json:"ethValue" validate:"required,wei"`
	Operator ComparisonOperator `json:"operator" validate:"required,oneof=> >= < <= =="`
}

// EvmAddressCriterion tests the destination address against a list.
type EvmAddressCriterion struct {
	Addresses []string           `json:"addresses" validate:"required,max=300,dive,evmaddress"`
	Operator  MembershipOperator `json:"operator" validate:"required,oneof='in' 'not in'"`
}

// EvmNetworkCriterion tests the network derived from the chain id.
type EvmNetworkCriterion struct {
	Networks []Network          `json:"networks" validate:"required,dive,oneof=base base-sepolia ethereum polygon"`
	Operator MembershipOperator `json:"operator" validate:"required,oneof='in' 'not in'"`
}

// NetUSDChangeCriterion compares the estimated USD value of the transfer, in cents.
type NetUSDChangeCriterion struct {
	ChangeCents *big.Int           `json:"changeCents"`
	Operator    ComparisonOperator `json:"operator" validate:"required,oneof=> >= < <= =="`
}

// EvmDataCriterion constrains contract calls made through calldata.
type EvmDataCriterion struct {
	ABI        ABIRef          `json:"abi"`
	Conditions []DataCondition `json:"conditions" validate:"required,min=1,dive"`
}

// DataCondition names a contract function and optional parameter constraints.
type DataCondition struct {
	Function string      `json:"function" validate:"required"`
	Params   []DataParam `json:"params,omitempty" validate:"omitempty,dive"`
}

func (c DataCondition) clone() DataCondition {
	clone := DataCondition{Function: c.Function}
	if c.Params != nil {
		clone.Params = make([]DataParam, len(c.Params))
		for i, param := range c.Params {
			param.Values = cloneStrings(param.Values)
			clone.Params[i] = param
		}
	}
	return clone
}

// DataParam constrains a single decoded call parameter.
type DataParam struct {
	Name     string   `json:"name" validate:"required"`
	Operator string   `json:"operator" validate:"required,oneof='in' 'not in' > >= < <= =="`
	Values   []string `json:"values,omitempty"`
	Value    string   `json:"value,omitempty"`
}

// ABIRef is either a well-known token standard name or an explicit ABI.
type ABIRef struct {
	Standard string
	Entries  []any
}

// MarshalJSON writes the standard name or the ABI array.
func (a ABIRef) MarshalJSON() ([]byte, error) {
	if a.Entries != nil {
		return json.Marshal(a.Entries)
	}
	return json.Marshal(a.Standard)
}

// UnmarshalJSON accepts a string or an array.
func (a *ABIRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = ABIRef{}
		return nil
	case data[0] == '"':
		var standard string
		if err := json.Unmarshal(data, &standard); err != nil {
			return err
		}
		*a = ABIRef{Standard: standard}
		return nil
	case data[0] == '[':
		var entries []any
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*a = ABIRef{Entries: entries}
		return nil
	default:
		return fmt.Errorf("abi must be a standard name or an ABI array")
	}
}

func (EthValueCriterion) Type() CriterionType     { return CriterionEthValue }
func (EvmAddressCriterion) Type() CriterionType   { return CriterionEvmAddress }
func (EvmNetworkCriterion) Type() CriterionType   { return CriterionEvmNetwork }
func (NetUSDChangeCriterion) Type() CriterionType { return CriterionNetUSDChange }
func (EvmDataCriterion) Type() CriterionType      { return CriterionEvmData }

func (EthValueCriterion) isCriterion()     {}
func (EvmAddressCriterion) isCriterion()   {}
func (EvmNetworkCriterion) isCriterion()   {}
func (NetUSDChangeCriterion) isCriterion() {}
func (EvmDataCriterion) isCriterion()      {}

// MarshalJSON adds the type discriminator.
func (c EthValueCriterion) MarshalJSON() ([]byte, error) {
	type plain EthValueCriterion
	return marshalTagged(c.Type(), plain(c))
}

// MarshalJSON adds the type discriminator.
func (c EvmAddressCriterion) MarshalJSON() ([]byte, error) {
	type plain EvmAddressCriterion
	return marshalTagged(c.Type(), plain(c))
}

// MarshalJSON adds the type discriminator.
func (c EvmNetworkCriterion) MarshalJSON() ([]byte, error) {
	type plain EvmNetworkCriterion
	return marshalTagged(c.Type(), plain(c))
}

// MarshalJSON adds the type discriminator.
func (c NetUSDChangeCriterion) MarshalJSON() ([]byte, error) {
	type plain NetUSDChangeCriterion
	return marshalTagged(c.Type(), plain(c))
}

// MarshalJSON adds the type discriminator.
func (c EvmDataCriterion) MarshalJSON() ([]byte, error) {
	type plain EvmDataCriterion
	return marshalTagged(c.Type(), plain(c))
}

func marshalTagged(kind CriterionType, body any) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnknownCriterionTypeError reports a discriminator outside the closed set.
type UnknownCriterionTypeError struct {
	Type string
}

func (e *UnknownCriterionTypeError) Error() string {
	return fmt.Sprintf("unknown criterion type: %q", e.Type)
}

// DecodeCriterion decodes one criterion by its "type" discriminator.
func DecodeCriterion(data []byte) (Criterion, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	if head.Type == nil {
		return nil, &UnknownCriterionTypeError{}
	}

	switch CriterionType(*head.Type) {
	case CriterionEthValue:
		var c EthValueCriterion
		err := json.Unmarshal(data, &c)
		return c, err
	case CriterionEvmAddress:
		var c EvmAddressCriterion
		err := json.Unmarshal(data, &c)
		return c, err
	case CriterionEvmNetwork:
		var c EvmNetworkCriterion
		err := json.Unmarshal(data, &c)
		return c, err
	case CriterionNetUSDChange:
		var c NetUSDChangeCriterion
		err := json.Unmarshal(data, &c)
		return c, err
	case CriterionEvmData:
		var c EvmDataCriterion
		err := json.Unmarshal(data, &c)
		return c, err
	default:
		return nil, &UnknownCriterionTypeError{Type: *head.Type}
	}
}
