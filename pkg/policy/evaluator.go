package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/telemetry"
)

// CentsPerMilliEther is the fixed price used to estimate USD value: 0.001 ETH
// is valued at 250 cents, i.e. $2500 per ETH. There is no live price feed.
const CentsPerMilliEther = 250

// Reasons reported when no rule decides the outcome.
const (
	ReasonPolicyNotFound = "policy not found"
	ReasonNoRuleMatched  = "no rule matched"
	ReasonNetworkUnknown = "network not identified"
)

var weiPerMilliEther = big.NewInt(1_000_000_000_000_000)

// PolicyGetter resolves a policy by id.
type PolicyGetter interface {
	GetPolicy(id string) (domain.Policy, error)
}

// Evaluator walks a policy's ordered rules against a transaction.
type Evaluator struct {
	policies PolicyGetter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the evaluator logger.
func WithLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEvaluator constructs an Evaluator over the given policy source.
func NewEvaluator(policies PolicyGetter, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		policies: policies,
		logger:   slog.Default(),
		tracer:   otel.Tracer("txguard/policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether tx is allowed under the policy identified by
// policyID. An empty id selects the default policy. Evaluate never fails: every
// problem is expressed as a denied Evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, policyID string, tx domain.Transaction) (result domain.Evaluation) {
	if strings.TrimSpace(policyID) == "" {
		policyID = domain.DefaultPolicyID
	}

	ctx, span := e.tracer.Start(ctx, "policy.evaluate", trace.WithAttributes(
		attribute.String("policy.id", policyID),
		attribute.String("tx.chain_id", string(tx.ChainID)),
	))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = domain.Evaluation{
				PolicyID: policyID,
				Allowed:  false,
				Reason:   fmt.Sprintf("evaluation failed: %v", r),
			}
			span.SetStatus(codes.Error, result.Reason)
			e.logger.Error("policy evaluation panicked", "policy_id", policyID, "panic", r)
		}

		span.SetAttributes(
			attribute.Bool("policy.allowed", result.Allowed),
			attribute.String("policy.reason", result.Reason),
		)
		span.End()

		telemetry.RecordPolicyDecision(ctx, telemetry.PolicyDecision{
			PolicyID: policyID,
			Allowed:  result.Allowed,
			Matched:  result.RuleIndex != nil,
			Duration: time.Since(start),
		})
		e.logger.Debug("policy evaluated",
			"policy_id", policyID,
			"allowed", result.Allowed,
			"reason", result.Reason,
		)
	}()

	policy, err := e.policies.GetPolicy(policyID)
	if err != nil {
		if !errors.Is(err, domain.ErrPolicyNotFound) {
			e.logger.Warn("policy lookup failed", "policy_id", policyID, "error", err)
		}
		return domain.Evaluation{PolicyID: policyID, Allowed: false, Reason: ReasonPolicyNotFound}
	}

	for i, rule := range policy.Rules {
		matched, reason := evaluateRule(rule, tx)
		if !matched {
			continue
		}
		index := i
		matchedRule := rule
		return domain.Evaluation{
			PolicyID:  policyID,
			Allowed:   rule.Action == domain.ActionAccept,
			Reason:    reason,
			Rule:      &matchedRule,
			RuleIndex: &index,
		}
	}

	return domain.Evaluation{PolicyID: policyID, Allowed: false, Reason: ReasonNoRuleMatched}
}

// evaluateRule evaluates every criterion of the rule, even after a miss, and
// joins their explanations.
func evaluateRule(rule domain.Rule, tx domain.Transaction) (bool, string) {
	if len(rule.Criteria) == 0 {
		return false, "rule has no criteria"
	}

	matched := true
	reasons := make([]string, 0, len(rule.Criteria))
	for _, criterion := range rule.Criteria {
		ok, reason := EvaluateCriterion(criterion, tx)
		matched = matched && ok
		reasons = append(reasons, reason)
	}
	return matched, strings.Join(reasons, ", ")
}

// EvaluateCriterion reports whether a single criterion matches tx, with a short
// explanation.
func EvaluateCriterion(criterion domain.Criterion, tx domain.Transaction) (bool, string) {
	switch c := criterion.(type) {
	case domain.EvmNetworkCriterion:
		return evaluateNetwork(c, tx)
	case domain.EthValueCriterion:
		return evaluateEthValue(c, tx)
	case domain.EvmAddressCriterion:
		return evaluateAddress(c, tx)
	case domain.NetUSDChangeCriterion:
		return evaluateNetUSDChange(c, tx)
	case domain.EvmDataCriterion:
		return evaluateData(c, tx)
	case nil:
		return false, "unknown criterion type: <nil>"
	default:
		return false, fmt.Sprintf("unknown criterion type: %s", criterion.Type())
	}
}

func evaluateNetwork(c domain.EvmNetworkCriterion, tx domain.Transaction) (bool, string) {
	chainID, ok := tx.ChainID.Int64()
	if !ok {
		return false, ReasonNetworkUnknown
	}
	network, ok := domain.NetworkForChain(chainID)
	if !ok {
		return false, ReasonNetworkUnknown
	}

	member := false
	for _, candidate := range c.Networks {
		if candidate == network {
			member = true
			break
		}
	}
	if c.Operator.Apply(member) {
		return true, fmt.Sprintf("network %s allowed", network)
	}
	return false, fmt.Sprintf("network %s blocked", network)
}

func evaluateEthValue(c domain.EthValueCriterion, tx domain.Transaction) (bool, string) {
	value, err := tx.WeiValue()
	if err != nil {
		return false, "invalid transaction value"
	}
	threshold, err := domain.ParseUint(c.EthValue)
	if err != nil {
		return false, "invalid ethValue threshold"
	}
	matched := c.Operator.Compare(value, threshold)
	return matched, fmt.Sprintf("value %s %s %s", value, c.Operator, threshold)
}

func evaluateAddress(c domain.EvmAddressCriterion, tx domain.Transaction) (bool, string) {
	if strings.TrimSpace(tx.To) == "" {
		return false, "destination address not specified"
	}
	to := strings.ToLower(tx.To)

	member := false
	for _, candidate := range c.Addresses {
		if strings.ToLower(candidate) == to {
			member = true
			break
		}
	}
	if c.Operator.Apply(member) {
		return true, fmt.Sprintf("address %s authorized", tx.To)
	}
	return false, fmt.Sprintf("address %s not authorized", tx.To)
}

// EstimateCents converts a wei amount to an estimated USD value in cents using
// CentsPerMilliEther. Sub-milliether remainders are dropped.
func EstimateCents(wei *big.Int) *big.Int {
	milli := new(big.Int).Quo(wei, weiPerMilliEther)
	return milli.Mul(milli, big.NewInt(CentsPerMilliEther))
}

func evaluateNetUSDChange(c domain.NetUSDChangeCriterion, tx domain.Transaction) (bool, string) {
	if c.ChangeCents == nil {
		return false, "changeCents missing"
	}
	value, err := tx.WeiValue()
	if err != nil {
		return false, "invalid transaction value"
	}
	estimated := EstimateCents(value)
	matched := c.Operator.Compare(estimated, c.ChangeCents)
	return matched, fmt.Sprintf("estimated %s %s %s", formatCents(estimated), c.Operator, formatCents(c.ChangeCents))
}

func formatCents(cents *big.Int) string {
	dollars, rem := new(big.Int).QuoRem(cents, big.NewInt(100), new(big.Int))
	return fmt.Sprintf("$%s.%02d", dollars, rem.Abs(rem).Int64())
}

// evaluateData matches any call that carries calldata when at least one
// condition is declared. The selector is echoed; parameters are not decoded.
func evaluateData(c domain.EvmDataCriterion, tx domain.Transaction) (bool, string) {
	data := strings.TrimSpace(tx.Data)
	if data == "" || strings.EqualFold(data, "0x") {
		return false, "no function data"
	}

	selector := data
	if len(selector) > 10 {
		selector = selector[:10]
	}
	if len(c.Conditions) > 0 {
		return true, fmt.Sprintf("function %s evaluated", selector)
	}
	return false, fmt.Sprintf("function %s not allowed", selector)
}
