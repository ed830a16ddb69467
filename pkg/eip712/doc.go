// Package eip712 inspects EIP-712 typed-data signing requests before a wallet
// signs them.
//
// Inspection runs a fixed pipeline of heuristic stages (structure, verifying
// contract, primary type, domain, message content, critical fields, deadlines)
// that accumulate warnings and errors, then scores the findings into a risk
// level. The heuristics are best-effort phishing signals, not a guarantee that
// a message is harmless.
package eip712
