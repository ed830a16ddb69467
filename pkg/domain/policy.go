package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// DefaultPolicyID identifies the built-in policy that is always present.
const DefaultPolicyID = "default"

// OperationSendEvmTransaction is the only operation a rule can govern.
const OperationSendEvmTransaction = "sendEvmTransaction"

// Scope declares who a policy applies to.
type Scope string

// Policy scopes.
const (
	ScopeProject Scope = "project"
	ScopeAccount Scope = "account"
)

// RuleAction is the outcome applied when a rule matches.
type RuleAction string

// Rule actions.
const (
	ActionAccept RuleAction = "accept"
	ActionReject RuleAction = "reject"
)

// Policy is an ordered list of rules. The first rule whose criteria all match
// decides the outcome; when none match the transaction is denied.
type Policy struct {
	Scope       Scope  `json:"scope" validate:"required,oneof=project account"`
	Description string `json:"description,omitempty" validate:"omitempty,policydesc"`
	Rules       []Rule `json:"rules" validate:"required,min=1,max=10,dive"`
}

// Rule pairs an action with criteria that must all hold.
type Rule struct {
	Action    RuleAction  `json:"action" validate:"required,oneof=accept reject"`
	Operation string      `json:"operation" validate:"required,eq=sendEvmTransaction"`
	Criteria  []Criterion `json:"criteria" validate:"required,min=1,max=10,dive"`
}

// UnmarshalJSON decodes the criteria list through the type discriminator.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Action    RuleAction        `json:"action"`
		Operation string            `json:"operation"`
		Criteria  []json.RawMessage `json:"criteria"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rule := Rule{Action: raw.Action, Operation: raw.Operation}
	if raw.Criteria != nil {
		rule.Criteria = make([]Criterion, 0, len(raw.Criteria))
	}
	for i, item := range raw.Criteria {
		criterion, err := DecodeCriterion(item)
		if err != nil {
			return fmt.Errorf("criteria[%d]: %w", i, err)
		}
		rule.Criteria = append(rule.Criteria, criterion)
	}
	*r = rule
	return nil
}

// Clone returns a deep copy of the policy.
func (p Policy) Clone() Policy {
	clone := Policy{Scope: p.Scope, Description: p.Description}
	if p.Rules != nil {
		clone.Rules = make([]Rule, len(p.Rules))
		for i, rule := range p.Rules {
			clone.Rules[i] = rule.Clone()
		}
	}
	return clone
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	clone := Rule{Action: r.Action, Operation: r.Operation}
	if r.Criteria != nil {
		clone.Criteria = make([]Criterion, len(r.Criteria))
		for i, criterion := range r.Criteria {
			clone.Criteria[i] = cloneCriterion(criterion)
		}
	}
	return clone
}

func cloneCriterion(c Criterion) Criterion {
	switch typed := c.(type) {
	case EthValueCriterion:
		return typed
	case EvmAddressCriterion:
		typed.Addresses = cloneStrings(typed.Addresses)
		return typed
	case EvmNetworkCriterion:
		if typed.Networks != nil {
			typed.Networks = append([]Network{}, typed.Networks...)
		}
		return typed
	case NetUSDChangeCriterion:
		if typed.ChangeCents != nil {
			typed.ChangeCents = new(big.Int).Set(typed.ChangeCents)
		}
		return typed
	case EvmDataCriterion:
		if typed.ABI.Entries != nil {
			typed.ABI.Entries = append([]any{}, typed.ABI.Entries...)
		}
		if typed.Conditions != nil {
			conditions := make([]DataCondition, len(typed.Conditions))
			for i, cond := range typed.Conditions {
				conditions[i] = cond.clone()
			}
			typed.Conditions = conditions
		}
		return typed
	default:
		return c
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

// PolicySummary surfaces key policy metadata for listing endpoints.
type PolicySummary struct {
	ID          string `json:"id"`
	Scope       Scope  `json:"scope"`
	Description string `json:"description,omitempty"`
	RuleCount   int    `json:"ruleCount"`
}

// Summarize builds the listing view of a stored policy.
func (p Policy) Summarize(id string) PolicySummary {
	return PolicySummary{
		ID:          id,
		Scope:       p.Scope,
		Description: p.Description,
		RuleCount:   len(p.Rules),
	}
}

// Evaluation is the verdict returned for a transaction.
type Evaluation struct {
	PolicyID  string `json:"policyId"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	Rule      *Rule  `json:"rule,omitempty"`
	RuleIndex *int   `json:"ruleIndex,omitempty"`
}
