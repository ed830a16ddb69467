package eip712

import (
	"fmt"
	"strings"

	"github.com/rojo-labs/txguard/pkg/domain"
)

// NetworkName labels a chain id for display, falling back to "Chain <id>".
func NetworkName(chainID any) string {
	if id, ok := chainIDInt64(chainID); ok {
		return domain.NetworkDisplayName(id)
	}
	return fmt.Sprintf("Chain %v", chainID)
}

// Summary renders a plain-text explanation of result for the person about to sign.
func Summary(result Result) string {
	var b strings.Builder

	b.WriteString("Message security analysis:\n\n")
	if !result.Safe {
		b.WriteString("DANGER: this message is NOT safe to sign\n")
		fmt.Fprintf(&b, "Risk level: %s\n\n", strings.ToUpper(string(result.Risk)))
	} else {
		b.WriteString("The message appears safe\n")
		fmt.Fprintf(&b, "Risk level: %s\n\n", result.Risk)
	}

	if len(result.Errors) > 0 {
		b.WriteString("Critical errors:\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
		b.WriteString("\n")
	}

	if len(result.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString("Details:\n")
	fmt.Fprintf(&b, "  - Type: %v\n", result.Details["primaryType"])
	if contract, ok := result.Details["verifyingContract"]; ok {
		trusted := "No"
		if result.flag("contractTrusted") {
			trusted = "Yes"
		}
		fmt.Fprintf(&b, "  - Contract: %v\n", contract)
		fmt.Fprintf(&b, "  - Trusted: %s\n", trusted)
	}
	if chainID, ok := result.Details["chainId"]; ok {
		fmt.Fprintf(&b, "  - Network: %s\n", NetworkName(chainID))
	}

	return b.String()
}
