package storage

import (
	"fmt"
	"sync"

	"github.com/rojo-labs/txguard/pkg/domain"
)

// MemoryPolicyStore is an insertion-ordered in-memory implementation of PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	order    []string
	policies map[string]domain.Policy
}

// NewMemoryPolicyStore creates a new MemoryPolicyStore.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{
		policies: make(map[string]domain.Policy),
	}
}

// Get retrieves a copy of the policy stored under id.
func (s *MemoryPolicyStore) Get(id string) (domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[id]
	if !ok {
		return domain.Policy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return policy.Clone(), nil
}

// Put stores a copy of the policy. Overwriting keeps the original position.
func (s *MemoryPolicyStore) Put(id string, policy domain.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[id]; !exists {
		s.order = append(s.order, id)
	}
	s.policies[id] = policy.Clone()
}

// Delete removes the policy and reports whether it existed.
func (s *MemoryPolicyStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[id]; !exists {
		return false
	}
	delete(s.policies, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns copies of all policies in insertion order.
func (s *MemoryPolicyStore) List() []PolicyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]PolicyEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, PolicyEntry{ID: id, Policy: s.policies[id].Clone()})
	}
	return entries
}

// ReplaceAll swaps the stored policies for entries under a single lock. Ids that
// survive keep their position; new ids are appended in the order given.
func (s *MemoryPolicyStore) ReplaceAll(entries []PolicyEntry, keep func(id string) bool) {
	incoming := make(map[string]domain.Policy, len(entries))
	for _, entry := range entries {
		incoming[entry.ID] = entry.Policy.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]string, 0, len(s.order)+len(entries))
	for _, id := range s.order {
		if _, replaced := incoming[id]; replaced || (keep != nil && keep(id)) {
			order = append(order, id)
			continue
		}
		delete(s.policies, id)
	}
	for _, entry := range entries {
		if _, exists := s.policies[entry.ID]; !exists {
			order = append(order, entry.ID)
		}
		s.policies[entry.ID] = incoming[entry.ID]
	}
	s.order = order
}
