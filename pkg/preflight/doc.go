// Package preflight combines a policy evaluation with extra security checks
// into a single APPROVE or REJECT recommendation for a wallet transaction.
//
// The security checks are expressed in Rego and evaluated by an embedded Open
// Policy Agent engine, so operators can replace them without rebuilding.
// Decisions are cached per normalized input.
package preflight
