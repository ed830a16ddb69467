package preflight

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/telemetry"
)

// Recommendation is the final advice returned to the wallet.
type Recommendation string

// Recommendations.
const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendReject  Recommendation = "REJECT"
)

// PolicyEvaluator decides a transaction against a stored policy.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, policyID string, tx domain.Transaction) domain.Evaluation
}

// Validation is the combined pre-flight verdict.
type Validation struct {
	Allowed        bool              `json:"allowed"`
	PolicyResult   domain.Evaluation `json:"policyResult"`
	SecurityChecks Checks            `json:"securityChecks"`
	Recommendation Recommendation    `json:"recommendation"`
}

// Validator runs the policy evaluation and the security checks together.
type Validator struct {
	policies PolicyEvaluator
	engine   *Engine
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewValidator wires a Validator. A nil logger selects slog.Default.
func NewValidator(policies PolicyEvaluator, engine *Engine, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		policies: policies,
		engine:   engine,
		logger:   logger,
		tracer:   otel.Tracer("txguard/preflight"),
	}
}

// Validate approves tx only when the policy allows it and every security check
// passes. A failing check engine rejects.
func (v *Validator) Validate(ctx context.Context, policyID string, tx domain.Transaction) Validation {
	ctx, span := v.tracer.Start(ctx, "preflight.validate")
	defer span.End()

	evaluation := v.policies.Evaluate(ctx, policyID, tx)
	checks := v.securityChecks(ctx, tx)

	allowed := evaluation.Allowed && checks.Passed()
	result := Validation{
		Allowed:        allowed,
		PolicyResult:   evaluation,
		SecurityChecks: checks,
		Recommendation: RecommendReject,
	}
	if allowed {
		result.Recommendation = RecommendApprove
	}

	span.SetAttributes(
		attribute.String("policy.id", evaluation.PolicyID),
		attribute.String("preflight.recommendation", string(result.Recommendation)),
	)
	telemetry.RecordPreflight(ctx, evaluation.PolicyID, string(result.Recommendation))
	v.logger.Info("transaction validation", "policy_id", evaluation.PolicyID, "recommendation", result.Recommendation)
	return result
}

func (v *Validator) securityChecks(ctx context.Context, tx domain.Transaction) Checks {
	if v.engine == nil {
		return Checks{}
	}

	input := Input{To: tx.To}
	if chainID, ok := tx.ChainID.Int64(); ok {
		input.ChainID = &chainID
	}
	if value, err := tx.WeiValue(); err == nil {
		input.ValueWei = value.String()
	}

	checks, err := v.engine.Evaluate(ctx, input)
	if err != nil {
		v.logger.Warn("security checks failed", "error", err)
		return Checks{}
	}
	return checks
}
