package eip712

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// Pattern is a named case-insensitive regular expression.
type Pattern struct {
	Name string
	Expr *regexp.Regexp
}

// CompilePattern compiles expr as a case-insensitive Pattern.
func CompilePattern(expr string) (Pattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return Pattern{Name: expr, Expr: re}, nil
}

func mustPattern(expr string) Pattern {
	p, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Heuristics holds every static table the inspector consults.
type Heuristics struct {
	// HighRiskTypes are primary types that grant spending or operator rights.
	HighRiskTypes []string
	// SafeTypes are primary types commonly used for harmless signatures.
	SafeTypes []string
	// HighRiskDomainNames are substrings that mark a domain name as malicious.
	HighRiskDomainNames []string
	// LegitDomainNames are exact names exempt from typosquat warnings.
	LegitDomainNames []string
	// TyposquatPatterns match lookalikes of well known protocol names.
	TyposquatPatterns []Pattern
	// SuspiciousMessagePatterns are matched against the serialized message.
	SuspiciousMessagePatterns []Pattern
	// SuspiciousContracts are verifying contracts that fail inspection outright.
	SuspiciousContracts []string
	// SuspiciousFieldAddresses are addresses flagged in critical message fields.
	SuspiciousFieldAddresses []string
	// CriticalFields are message fields expected to carry addresses.
	CriticalFields []string
	// SupportedChains are the chain ids the wallet expects to sign for.
	SupportedChains []int64
	// HighValueThreshold flags message values above it.
	HighValueThreshold *big.Int
	// DeadlineHorizon flags deadlines further in the future than now plus it.
	DeadlineHorizon time.Duration
	// ExpectedDomainVersion is the only domain version accepted without warning.
	ExpectedDomainVersion string
}

const (
	zeroAddress     = "0x0000000000000000000000000000000000000000"
	burnAddress     = "0x000000000000000000000000000000000000dead"
	deadBeefAddress = "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
)

// DefaultHeuristics returns the built-in heuristic tables.
func DefaultHeuristics() Heuristics {
	threshold, _ := new(big.Int).SetString("1000000000000000000000", 10)
	return Heuristics{
		HighRiskTypes:       []string{"Permit", "ApprovalForAll", "SetApprovalForAll", "EmergencyWithdraw", "AdminTransfer"},
		SafeTypes:           []string{"Mail", "Person", "Order", "Bid"},
		HighRiskDomainNames: []string{"Phishing", "FakeToken", "ScamNFT", "DrainWallet"},
		LegitDomainNames:    []string{"Uniswap", "OpenSea", "CoinbaseWallet", "ROJO"},
		TyposquatPatterns: []Pattern{
			mustPattern(`un[il]swap`),
			mustPattern(`open[s5]ea`),
			mustPattern(`c[o0]inbase`),
		},
		SuspiciousMessagePatterns: []Pattern{
			mustPattern(`approve.*unlimited`),
			mustPattern(`setApprovalForAll.*true`),
			mustPattern(`emergencyWithdraw`),
			mustPattern(`backdoor`),
			mustPattern(`admin.*transfer`),
		},
		SuspiciousContracts:      []string{zeroAddress, deadBeefAddress},
		SuspiciousFieldAddresses: []string{zeroAddress, burnAddress, deadBeefAddress},
		CriticalFields:           []string{"owner", "spender", "to", "approved", "operator"},
		SupportedChains:          []int64{1, 8453, 84532, 137},
		HighValueThreshold:       threshold,
		DeadlineHorizon:          24 * time.Hour,
		ExpectedDomainVersion:    "1",
	}
}

// Extensions lists operator supplied additions to the default tables.
type Extensions struct {
	HighRiskDomainNames       []string
	SuspiciousMessagePatterns []string
	SuspiciousContracts       []string
}

// Extend returns a copy of h with ext appended to the matching tables.
func (h Heuristics) Extend(ext Extensions) (Heuristics, error) {
	out := h
	out.HighRiskDomainNames = append(append([]string{}, h.HighRiskDomainNames...), ext.HighRiskDomainNames...)
	out.SuspiciousMessagePatterns = append([]Pattern{}, h.SuspiciousMessagePatterns...)
	for _, expr := range ext.SuspiciousMessagePatterns {
		p, err := CompilePattern(expr)
		if err != nil {
			return Heuristics{}, err
		}
		out.SuspiciousMessagePatterns = append(out.SuspiciousMessagePatterns, p)
	}
	out.SuspiciousContracts = append([]string{}, h.SuspiciousContracts...)
	for _, address := range ext.SuspiciousContracts {
		out.SuspiciousContracts = append(out.SuspiciousContracts, strings.ToLower(address))
	}
	return out, nil
}
