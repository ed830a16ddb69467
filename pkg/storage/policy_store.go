// Package storage provides in-memory persistence for transaction policies and
// the trusted contract registry. Nothing is written to disk; state lives for the
// lifetime of the process.
package storage

import (
	"errors"

	"github.com/rojo-labs/txguard/pkg/domain"
)

// ErrNotFound is returned when a requested policy does not exist in the store.
var ErrNotFound = errors.New("policy not found")

// PolicyEntry pairs a stored policy with its identifier.
type PolicyEntry struct {
	ID     string
	Policy domain.Policy
}

// PolicyStore exposes persistence operations for policies keyed by id.
// Implementations keep insertion order and return copies so callers can never
// mutate stored state.
type PolicyStore interface {
	Get(id string) (domain.Policy, error)
	Put(id string, policy domain.Policy)
	Delete(id string) bool
	List() []PolicyEntry
	// ReplaceAll swaps the stored set for entries in one step. Existing ids for
	// which keep returns true survive even when absent from entries.
	ReplaceAll(entries []PolicyEntry, keep func(id string) bool)
}
