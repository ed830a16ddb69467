package eip712

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rojo-labs/txguard/pkg/storage"
)

const trustedRouter = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestInspector(opts ...Option) *Inspector {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewInspector(storage.NewTrustRegistry(), opts...)
}

func mailDocument(message map[string]any) TypedData {
	return TypedData{
		Types: map[string][]Field{
			"Mail": {{Name: "content", Type: "string"}},
		},
		PrimaryType: "Mail",
		Domain: &Domain{
			Name:              "ROJO",
			Version:           "1",
			ChainID:           json.Number("8453"),
			VerifyingContract: trustedRouter,
		},
		Message: message,
	}
}

func TestInspect_TrustedMailIsSafe(t *testing.T) {
	result := newTestInspector().Inspect(context.Background(), mailDocument(map[string]any{"content": "hi"}))

	assert.True(t, result.Safe)
	assert.Equal(t, RiskLow, result.Risk)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "valid", result.Details["structure"])
	assert.Equal(t, true, result.Details["contractTrusted"])
	assert.Equal(t, true, result.Details["commonSafeType"])
}

func TestInspect_PermitToZeroAddressIsCritical(t *testing.T) {
	raw := `{
		"types": {"Permit": [{"name": "owner", "type": "address"}, {"name": "value", "type": "uint256"}]},
		"primaryType": "Permit",
		"domain": {"name": "Token", "version": "1", "chainId": 1, "verifyingContract": "0x0000000000000000000000000000000000000000"},
		"message": {
			"owner": "0x1111111111111111111111111111111111111111",
			"value": "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
		}
	}`

	result := newTestInspector().InspectJSON(context.Background(), []byte(raw))

	assert.False(t, result.Safe)
	assert.Equal(t, RiskCritical, result.Risk)
	assert.Contains(t, result.Errors, "suspicious verifying contract: 0x0000000000000000000000000000000000000000")
	assert.Equal(t, true, result.Details["unlimitedApproval"])
	assert.Equal(t, true, result.Details["highRiskType"])
	assert.Equal(t, false, result.Details["contractTrusted"])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", result.Details["ownerAddress"])
}

func TestInspect_MissingStructureReportsEachField(t *testing.T) {
	result := newTestInspector().Inspect(context.Background(), TypedData{})

	assert.False(t, result.Safe)
	assert.Equal(t, RiskCritical, result.Risk)
	assert.Len(t, result.Errors, 4)
	assert.Contains(t, result.Warnings, "no verifying contract specified")
	assert.NotContains(t, result.Details, "structure")
}

func TestInspect_DeadlineBoundaries(t *testing.T) {
	inspector := newTestInspector()

	expired := mailDocument(map[string]any{
		"content":  "hi",
		"deadline": json.Number(strconv.FormatInt(fixedNow.Add(-time.Second).Unix(), 10)),
	})
	result := inspector.Inspect(context.Background(), expired)
	assert.False(t, result.Safe)
	assert.Equal(t, []string{"deadline expired"}, result.Errors)
	assert.Equal(t, "2026-03-01T11:59:59.000Z", result.Details["deadline"])

	distant := mailDocument(map[string]any{
		"content":  "hi",
		"deadline": strconv.FormatInt(fixedNow.Add(25*time.Hour).Unix(), 10),
	})
	result = inspector.Inspect(context.Background(), distant)
	assert.True(t, result.Safe)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"deadline too far in the future (>24h)"}, result.Warnings)
	assert.Equal(t, RiskLow, result.Risk)

	soon := mailDocument(map[string]any{
		"content":  "hi",
		"deadline": json.Number(strconv.FormatInt(fixedNow.Add(time.Hour).Unix(), 10)),
		"nonce":    json.Number("7"),
	})
	result = inspector.Inspect(context.Background(), soon)
	assert.True(t, result.Safe)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, json.Number("7"), result.Details["nonce"])
}

func TestInspect_DeadlineNumberForms(t *testing.T) {
	inspector := newTestInspector()

	exponent := mailDocument(map[string]any{"content": "hi", "deadline": json.Number("1.7e9")})
	result := inspector.Inspect(context.Background(), exponent)
	assert.Equal(t, []string{"deadline expired"}, result.Errors)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", result.Details["deadline"])

	fractional := mailDocument(map[string]any{
		"content":  "hi",
		"deadline": json.Number(strconv.FormatInt(fixedNow.Add(time.Hour).Unix(), 10) + ".5"),
	})
	result = inspector.Inspect(context.Background(), fractional)
	assert.True(t, result.Safe)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "2026-03-01T13:00:00.500Z", result.Details["deadline"])

	hex := mailDocument(map[string]any{"content": "hi", "deadline": "0x6553f100"})
	result = inspector.Inspect(context.Background(), hex)
	assert.Equal(t, []string{"deadline expired"}, result.Errors)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", result.Details["deadline"])
}

func TestInspect_UnparseableDeadlineIsAnError(t *testing.T) {
	result := newTestInspector().Inspect(context.Background(), mailDocument(map[string]any{"deadline": "tomorrow"}))
	assert.False(t, result.Safe)
	assert.Equal(t, []string{"invalid deadline: tomorrow"}, result.Errors)
}

func TestInspect_Domain(t *testing.T) {
	tests := []struct {
		name     string
		domain   Domain
		errors   []string
		warnings []string
	}{
		{
			name:   "high risk name",
			domain: Domain{Name: "FakeToken Airdrop", Version: "1", VerifyingContract: trustedRouter},
			errors: []string{"suspicious domain name: FakeToken Airdrop"},
		},
		{
			name:     "typosquat",
			domain:   Domain{Name: "Unlswap", Version: "1", VerifyingContract: trustedRouter},
			warnings: []string{"possible domain phishing: Unlswap"},
		},
		{
			name:   "legit name",
			domain: Domain{Name: "OpenSea", Version: "1", VerifyingContract: trustedRouter},
		},
		{
			name:     "unusual version and chain",
			domain:   Domain{Name: "ROJO", Version: "2", ChainID: json.Number("10"), VerifyingContract: trustedRouter},
			warnings: []string{"unusual domain version: 2", "unsupported chain id: 10"},
		},
		{
			name:   "hex chain id",
			domain: Domain{Name: "ROJO", Version: "1", ChainID: "0x2105", VerifyingContract: trustedRouter},
		},
		{
			name:     "unknown contract",
			domain:   Domain{Name: "ROJO", Version: "1", VerifyingContract: "0x2222222222222222222222222222222222222222"},
			warnings: []string{"unknown verifying contract: 0x2222222222222222222222222222222222222222"},
		},
		{
			name:   "malformed contract",
			domain: Domain{Name: "ROJO", Version: "1", VerifyingContract: "0x1234"},
			errors: []string{"invalid verifying contract address: 0x1234"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := mailDocument(map[string]any{"content": "hi"})
			d := tt.domain
			td.Domain = &d

			result := newTestInspector().Inspect(context.Background(), td)
			if tt.errors == nil {
				assert.Empty(t, result.Errors)
			} else {
				assert.Equal(t, tt.errors, result.Errors)
			}
			if tt.warnings == nil {
				assert.Empty(t, result.Warnings)
			} else {
				assert.Equal(t, tt.warnings, result.Warnings)
			}
		})
	}
}

func TestInspect_MessageContent(t *testing.T) {
	result := newTestInspector().Inspect(context.Background(), mailDocument(map[string]any{
		"content": "please call emergencyWithdraw via the backdoor",
		"spender": "0x000000000000000000000000000000000000dEaD",
		"value":   "5000000000000000000000",
	}))

	assert.Contains(t, result.Warnings, "suspicious pattern detected: emergencyWithdraw")
	assert.Contains(t, result.Warnings, "suspicious pattern detected: backdoor")
	assert.Contains(t, result.Warnings, "field spender points to a suspicious address: 0x000000000000000000000000000000000000dEaD")
	assert.Contains(t, result.Warnings, "very high value detected: 5000000000000000000000")
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", result.Details["spenderAddress"])
	assert.NotContains(t, result.Details, "unlimitedApproval")
}

func TestInspect_NumericValueIsNotScanned(t *testing.T) {
	result := newTestInspector().Inspect(context.Background(), mailDocument(map[string]any{
		"value": json.Number("5000000000000000000000"),
	}))
	assert.Empty(t, result.Warnings)
}

type panickingTrust struct{}

func (panickingTrust) IsTrusted(string) bool { panic("registry unavailable") }

func TestInspect_RecoversFromPanics(t *testing.T) {
	inspector := NewInspector(panickingTrust{})
	result := inspector.Inspect(context.Background(), mailDocument(map[string]any{"content": "hi"}))

	assert.False(t, result.Safe)
	assert.Equal(t, RiskCritical, result.Risk)
	assert.Equal(t, []string{"error during inspection: registry unavailable"}, result.Errors)
}

func TestInspectJSON_DecodeFailure(t *testing.T) {
	result := newTestInspector().InspectJSON(context.Background(), []byte(`{"types": [}`))
	assert.False(t, result.Safe)
	assert.Equal(t, RiskCritical, result.Risk)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "error during inspection:"))
}

func TestInspect_WithExtendedHeuristics(t *testing.T) {
	heuristics, err := DefaultHeuristics().Extend(Extensions{
		HighRiskDomainNames:       []string{"Claim"},
		SuspiciousMessagePatterns: []string{`airdrop`},
	})
	require.NoError(t, err)

	td := mailDocument(map[string]any{"content": "Free AIRDROP"})
	td.Domain.Name = "ClaimRewards"

	result := newTestInspector(WithHeuristics(heuristics)).Inspect(context.Background(), td)
	assert.Contains(t, result.Errors, "suspicious domain name: ClaimRewards")
	assert.Contains(t, result.Warnings, "suspicious pattern detected: airdrop")

	_, err = DefaultHeuristics().Extend(Extensions{SuspiciousMessagePatterns: []string{`(`}})
	assert.Error(t, err)
}

func TestInspect_RiskScoreProperty(t *testing.T) {
	inspector := newTestInspector()
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "content")
		trusted := rapid.Bool().Draw(t, "trusted")

		td := mailDocument(map[string]any{"content": content})
		if !trusted {
			td.Domain.VerifyingContract = "0x3333333333333333333333333333333333333333"
		}
		result := inspector.Inspect(context.Background(), td)

		if result.Risk == RiskCritical && result.Safe {
			t.Fatalf("critical result marked safe: %+v", result)
		}
		if len(result.Errors) > 0 && result.Safe {
			t.Fatalf("result with errors marked safe: %+v", result)
		}
		if trusted && len(result.Warnings) == 0 && result.Risk != RiskLow {
			t.Fatalf("clean trusted message scored %s", result.Risk)
		}
	})
}
