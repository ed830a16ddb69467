// Package api exposes the policy store, the transaction evaluator, the trust
// registry, the typed-data inspector and the pre-flight validator over a JSON
// HTTP API.
//
// Every response is `{"success": bool, ...}`. Failures carry an `error` field
// holding either a message or a list of field-level validation errors.
package api
