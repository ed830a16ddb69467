package domain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantity_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Quantity
	}{
		{"number", `8453`, "8453"},
		{"string", `"8453"`, "8453"},
		{"hex string", `"0x2105"`, "0x2105"},
		{"null", `null`, ""},
		{"large number", `123456789012345678901234567890`, "123456789012345678901234567890"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Quantity
			require.NoError(t, json.Unmarshal([]byte(tt.input), &q))
			assert.Equal(t, tt.want, q)
		})
	}

	var q Quantity
	assert.Error(t, json.Unmarshal([]byte(`true`), &q))
}

func TestParseUint(t *testing.T) {
	value, err := ParseUint("0x2105")
	require.NoError(t, err)
	assert.Equal(t, int64(8453), value.Int64())

	value, err = ParseUint("9007199254740993")
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", value.String())

	for _, bad := range []string{"", "0x", "-1", "+1", "1_000", "1.5", "abc"} {
		_, err := ParseUint(bad)
		assert.Error(t, err, bad)
	}
}

func TestTransaction_WeiValue(t *testing.T) {
	value, err := Transaction{}.WeiValue()
	require.NoError(t, err)
	assert.Zero(t, value.Sign())

	_, err = Transaction{Value: "lots"}.WeiValue()
	assert.Error(t, err)
}

func TestNetworkForChain(t *testing.T) {
	network, ok := NetworkForChain(84532)
	assert.True(t, ok)
	assert.Equal(t, NetworkBaseSepolia, network)

	_, ok = NetworkForChain(10)
	assert.False(t, ok)

	assert.Equal(t, "Base", NetworkDisplayName(8453))
	assert.Equal(t, "Chain 10", NetworkDisplayName(10))
}

func TestComparisonOperator_Compare(t *testing.T) {
	one, two := big.NewInt(1), big.NewInt(2)
	assert.True(t, OpLess.Compare(one, two))
	assert.True(t, OpLessOrEqual.Compare(two, two))
	assert.True(t, OpGreater.Compare(two, one))
	assert.True(t, OpGreaterOrEqual.Compare(two, two))
	assert.True(t, OpEqual.Compare(one, big.NewInt(1)))
	assert.False(t, ComparisonOperator("!=").Compare(one, two))
}

func TestRule_JSONRoundTrip(t *testing.T) {
	raw := `{
		"action": "reject",
		"operation": "sendEvmTransaction",
		"criteria": [
			{"type": "ethValue", "ethValue": "1000", "operator": ">"},
			{"type": "evmNetwork", "networks": ["base"], "operator": "not in"},
			{"type": "netUSDChange", "changeCents": 100000000000000000000000, "operator": "<="},
			{"type": "evmData", "abi": "erc20", "conditions": [{"function": "transfer"}]}
		]
	}`

	var rule Rule
	require.NoError(t, json.Unmarshal([]byte(raw), &rule))
	require.Len(t, rule.Criteria, 4)

	usd, ok := rule.Criteria[2].(NetUSDChangeCriterion)
	require.True(t, ok)
	assert.Equal(t, "100000000000000000000000", usd.ChangeCents.String())

	data, ok := rule.Criteria[3].(EvmDataCriterion)
	require.True(t, ok)
	assert.Equal(t, "erc20", data.ABI.Standard)

	encoded, err := json.Marshal(rule)
	require.NoError(t, err)

	var again Rule
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Equal(t, rule, again)
}

func TestDecodeCriterion_UnknownType(t *testing.T) {
	_, err := DecodeCriterion([]byte(`{"type":"gasPrice"}`))
	var unknown *UnknownCriterionTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "gasPrice", unknown.Type)
}

func TestPolicy_CloneIsDeep(t *testing.T) {
	original := Policy{
		Scope: ScopeAccount,
		Rules: []Rule{{
			Action:    ActionAccept,
			Operation: OperationSendEvmTransaction,
			Criteria: []Criterion{
				NetUSDChangeCriterion{ChangeCents: big.NewInt(5), Operator: OpLess},
				EvmNetworkCriterion{Networks: []Network{NetworkBase}, Operator: OpIn},
			},
		}},
	}

	clone := original.Clone()
	clone.Rules[0].Criteria[0].(NetUSDChangeCriterion).ChangeCents.SetInt64(99)
	clone.Rules[0].Criteria[1].(EvmNetworkCriterion).Networks[0] = NetworkPolygon

	assert.Equal(t, int64(5), original.Rules[0].Criteria[0].(NetUSDChangeCriterion).ChangeCents.Int64())
	assert.Equal(t, NetworkBase, original.Rules[0].Criteria[1].(EvmNetworkCriterion).Networks[0])
}
