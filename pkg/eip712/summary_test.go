package eip712

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "Base", NetworkName(json.Number("8453")))
	assert.Equal(t, "Base Sepolia", NetworkName("84532"))
	assert.Equal(t, "Polygon", NetworkName("0x89"))
	assert.Equal(t, "Chain 10", NetworkName(json.Number("10")))
	assert.Equal(t, "Chain abc", NetworkName("abc"))
}

func TestSummary(t *testing.T) {
	inspector := newTestInspector()

	safe := Summary(inspector.Inspect(context.Background(), mailDocument(map[string]any{"content": "hi"})))
	assert.Contains(t, safe, "The message appears safe")
	assert.Contains(t, safe, "Risk level: low")
	assert.Contains(t, safe, "  - Type: Mail\n")
	assert.Contains(t, safe, "  - Trusted: Yes\n")
	assert.Contains(t, safe, "  - Network: Base\n")
	assert.NotContains(t, safe, "Warnings:")

	td := mailDocument(map[string]any{"content": "hi"})
	td.Domain.VerifyingContract = "0x0000000000000000000000000000000000000000"
	unsafe := Summary(inspector.Inspect(context.Background(), td))
	assert.Contains(t, unsafe, "DANGER: this message is NOT safe to sign")
	assert.Contains(t, unsafe, "Critical errors:\n  - suspicious verifying contract")
	assert.Contains(t, unsafe, "  - Trusted: No\n")
}
