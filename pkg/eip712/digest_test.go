package eip712

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The canonical "Ether Mail" example from EIP-712.
const etherMail = `{
	"types": {
		"EIP712Domain": [
			{"name": "name", "type": "string"},
			{"name": "version", "type": "string"},
			{"name": "chainId", "type": "uint256"},
			{"name": "verifyingContract", "type": "address"}
		],
		"Person": [
			{"name": "name", "type": "string"},
			{"name": "wallet", "type": "address"}
		],
		"Mail": [
			{"name": "from", "type": "Person"},
			{"name": "to", "type": "Person"},
			{"name": "contents", "type": "string"}
		]
	},
	"primaryType": "Mail",
	"domain": {
		"name": "Ether Mail",
		"version": "1",
		"chainId": 1,
		"verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
	},
	"message": {
		"from": {"name": "Cow", "wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826"},
		"to": {"name": "Bob", "wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"},
		"contents": "Hello, Bob!"
	}
}`

func TestSigningHash_EtherMail(t *testing.T) {
	td, err := DecodeTypedData([]byte(etherMail))
	require.NoError(t, err)

	digest, ok := SigningHash(td)
	require.True(t, ok)
	assert.Equal(t, "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2", digest)
}

func TestSigningHash_RecordedInDetails(t *testing.T) {
	result := newTestInspector().InspectJSON(context.Background(), []byte(etherMail))
	assert.Equal(t, "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2", result.Details["signingHash"])
}

func TestSigningHash_FailuresAreSilent(t *testing.T) {
	td, err := DecodeTypedData([]byte(etherMail))
	require.NoError(t, err)
	td.Message["contents"] = map[string]any{"nested": true}

	_, ok := SigningHash(td)
	assert.False(t, ok)

	result := newTestInspector().Inspect(context.Background(), td)
	assert.NotContains(t, result.Details, "signingHash")
}
