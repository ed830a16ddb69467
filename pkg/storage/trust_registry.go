package storage

import (
	"slices"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultTrustedContracts seeds every new registry with well known router contracts.
var DefaultTrustedContracts = []string{
	"0xa0b86a33e6441b8e8b96e3e30c9e1fb3e8de0f0c",
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d", // Uniswap V2 router
	"0xe592427a0aece92de3edee1f18e0157c05861564", // Uniswap V3 router
}

// TrustRegistry is a thread-safe set of lowercase contract addresses. Every
// mutation, including Replace, happens under a single lock.
type TrustRegistry struct {
	mu  sync.RWMutex
	set mapset.Set[string]
}

// NewTrustRegistry creates a registry seeded with DefaultTrustedContracts.
func NewTrustRegistry() *TrustRegistry {
	return NewTrustRegistryWith(DefaultTrustedContracts...)
}

// NewTrustRegistryWith creates a registry seeded with the given addresses.
// Malformed addresses are skipped.
func NewTrustRegistryWith(addresses ...string) *TrustRegistry {
	return &TrustRegistry{set: normalizedSet(addresses)}
}

// ValidAddress reports whether s is 0x followed by exactly 40 hex digits.
func ValidAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// Add stores the lowercase form of address. It returns false when the address
// is malformed.
func (r *TrustRegistry) Add(address string) bool {
	if !ValidAddress(address) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set.Add(strings.ToLower(address))
	return true
}

// Remove deletes the address and reports whether it was present.
func (r *TrustRegistry) Remove(address string) bool {
	key := strings.ToLower(address)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set.Contains(key) {
		return false
	}
	r.set.Remove(key)
	return true
}

// IsTrusted reports whether the address is in the registry, ignoring case.
func (r *TrustRegistry) IsTrusted(address string) bool {
	if address == "" {
		return false
	}
	key := strings.ToLower(address)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Contains(key)
}

// List returns the trusted addresses in sorted order.
func (r *TrustRegistry) List() []string {
	r.mu.RLock()
	out := r.set.ToSlice()
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Replace swaps the registry contents for the given addresses, skipping
// malformed ones, and returns how many were stored. Readers see either the old
// or the new contents, never a mix.
func (r *TrustRegistry) Replace(addresses []string) int {
	next := normalizedSet(addresses)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = next
	return next.Cardinality()
}

// normalizedSet builds an unsynchronized set of the valid addresses, lowercased.
// The registry lock guards it.
func normalizedSet(addresses []string) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, address := range addresses {
		if ValidAddress(address) {
			set.Add(strings.ToLower(address))
		}
	}
	return set
}
