// Package governance holds runtime safety controls for the HTTP surface.
//
// Today that is per-route token bucket rate limiting. Limits can be swapped at
// runtime with Configure without dropping the tokens already accrued by a route.
package governance
