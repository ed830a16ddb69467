package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rojo-labs/txguard/pkg/domain"
)

type stubEvaluator struct {
	allowed bool
}

func (s stubEvaluator) Evaluate(_ context.Context, policyID string, _ domain.Transaction) domain.Evaluation {
	if policyID == "" {
		policyID = domain.DefaultPolicyID
	}
	return domain.Evaluation{PolicyID: policyID, Allowed: s.allowed, Reason: "stub"}
}

func newTestEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), opts)
	require.NoError(t, err)
	return engine
}

func chain(id int64) *int64 { return &id }

func TestEngine_DefaultChecks(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	tests := []struct {
		name  string
		input Input
		want  Checks
	}{
		{
			name:  "all pass",
			input: Input{ChainID: chain(8453), ValueWei: "1000", To: "0x1111111111111111111111111111111111111111"},
			want:  Checks{NetworkAllowed: true, AmountReasonable: true, AddressValid: true},
		},
		{
			name:  "wrong network",
			input: Input{ChainID: chain(1), ValueWei: "1000", To: "0x1111111111111111111111111111111111111111"},
			want:  Checks{NetworkAllowed: false, AmountReasonable: true, AddressValid: true},
		},
		{
			name:  "exactly ten eth",
			input: Input{ChainID: chain(84532), ValueWei: "10000000000000000000", To: "0x1111111111111111111111111111111111111111"},
			want:  Checks{NetworkAllowed: true, AmountReasonable: false, AddressValid: true},
		},
		{
			name:  "missing fields",
			input: Input{},
			want:  Checks{},
		},
		{
			name:  "short address",
			input: Input{ChainID: chain(8453), ValueWei: "0", To: "0x1234"},
			want:  Checks{NetworkAllowed: true, AmountReasonable: true, AddressValid: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_CustomModule(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{
		Entrypoint: "custom/checks",
		Modules: map[string]string{
			"custom.rego": `package custom

checks := {"networkAllowed": true, "amountReasonable": true, "addressValid": input.to != ""}
`,
		},
	})

	got, err := engine.Evaluate(context.Background(), Input{To: "anything"})
	require.NoError(t, err)
	assert.True(t, got.Passed())
}

func TestEngine_InvalidModule(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"broken.rego": "package broken\nchecks := {"},
	})
	assert.Error(t, err)
}

func TestEngine_Cache(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{CacheMaxEntries: 2})
	input := Input{ChainID: chain(8453), ValueWei: "1", To: "0x1111111111111111111111111111111111111111"}

	first, err := engine.Evaluate(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, engine.cache.Len())

	second, err := engine.Evaluate(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.cache.Len())

	disabled := newTestEngine(t, EngineOptions{CacheMaxEntries: -1})
	got, err := disabled.Evaluate(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	assert.Nil(t, disabled.cache)
}

func TestValidator_Recommendation(t *testing.T) {
	engine := newTestEngine(t, EngineOptions{})
	tx := domain.Transaction{To: "0x1111111111111111111111111111111111111111", Value: "1000", ChainID: "8453"}

	approve := NewValidator(stubEvaluator{allowed: true}, engine, nil).Validate(context.Background(), "", tx)
	assert.True(t, approve.Allowed)
	assert.Equal(t, RecommendApprove, approve.Recommendation)
	assert.Equal(t, domain.DefaultPolicyID, approve.PolicyResult.PolicyID)

	denied := NewValidator(stubEvaluator{allowed: false}, engine, nil).Validate(context.Background(), "", tx)
	assert.False(t, denied.Allowed)
	assert.Equal(t, RecommendReject, denied.Recommendation)
	assert.True(t, denied.SecurityChecks.Passed())

	badValue := tx
	badValue.Value = "a lot"
	rejected := NewValidator(stubEvaluator{allowed: true}, engine, nil).Validate(context.Background(), "", badValue)
	assert.False(t, rejected.SecurityChecks.AmountReasonable)
	assert.Equal(t, RecommendReject, rejected.Recommendation)
}

func TestValidator_NoEngineFailsClosed(t *testing.T) {
	tx := domain.Transaction{To: "0x1111111111111111111111111111111111111111", Value: "1", ChainID: "8453"}
	result := NewValidator(stubEvaluator{allowed: true}, nil, nil).Validate(context.Background(), "default", tx)
	assert.Equal(t, Checks{}, result.SecurityChecks)
	assert.Equal(t, RecommendReject, result.Recommendation)
}
