// Package policy validates, stores and evaluates transaction policies.
//
// A policy is an ordered list of rules; each rule holds criteria that must all
// match a candidate EVM transaction for the rule to decide the outcome. The
// first matching rule wins and anything unmatched is denied. The package is
// intentionally decoupled from HTTP concerns so policies can be simulated and
// tested independently of the API surface.
package policy
