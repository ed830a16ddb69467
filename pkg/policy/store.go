package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/storage"
)

// Store validates policy documents and keeps them in a storage.PolicyStore.
// The default policy is seeded on construction and cannot be replaced or removed.
type Store struct {
	backend storage.PolicyStore
	logger  *slog.Logger
}

// NewStore wraps backend and seeds it with DefaultPolicy. A nil backend selects
// an in-memory store; a nil logger selects slog.Default.
func NewStore(backend storage.PolicyStore, logger *slog.Logger) *Store {
	if backend == nil {
		backend = storage.NewMemoryPolicyStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend.Put(domain.DefaultPolicyID, DefaultPolicy())
	return &Store{backend: backend, logger: logger}
}

// AddPolicy validates raw and stores it under id, replacing any existing entry
// while keeping its position. It returns the normalized policy.
func (s *Store) AddPolicy(id string, raw []byte) (domain.Policy, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Policy{}, ValidationErrors{{Path: "policyId", Rule: "required", Message: "is required"}}
	}
	if id == domain.DefaultPolicyID {
		return domain.Policy{}, domain.ErrProtectedPolicy
	}

	policy, err := ParsePolicy(raw)
	if err != nil {
		s.logger.Debug("policy rejected", "policy_id", id, "error", err)
		return domain.Policy{}, err
	}

	s.backend.Put(id, policy)
	s.logger.Info("policy stored", "policy_id", id, "rules", len(policy.Rules))
	return policy.Clone(), nil
}

// GetPolicy returns a copy of the policy stored under id.
func (s *Store) GetPolicy(id string) (domain.Policy, error) {
	policy, err := s.backend.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Policy{}, fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, id)
	}
	if err != nil {
		return domain.Policy{}, err
	}
	return policy, nil
}

// RemovePolicy deletes the policy and reports whether it existed.
func (s *Store) RemovePolicy(id string) (bool, error) {
	if id == domain.DefaultPolicyID {
		return false, domain.ErrProtectedPolicy
	}
	removed := s.backend.Delete(id)
	if removed {
		s.logger.Info("policy removed", "policy_id", id)
	}
	return removed, nil
}

// ListPolicies summarizes every stored policy in insertion order.
func (s *Store) ListPolicies() []domain.PolicySummary {
	entries := s.backend.List()
	out := make([]domain.PolicySummary, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Policy.Summarize(entry.ID))
	}
	return out
}

// ReplacePolicies swaps every non-default policy for the given set. Invalid
// documents are skipped and reported; the valid ones are still applied.
func (s *Store) ReplacePolicies(docs map[string][]byte) error {
	var errs []error
	valid := make(map[string]domain.Policy, len(docs))
	for id, raw := range docs {
		if id == domain.DefaultPolicyID {
			errs = append(errs, fmt.Errorf("policy %q: %w", id, domain.ErrProtectedPolicy))
			continue
		}
		policy, err := ParsePolicy(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("policy %q: %w", id, err))
			continue
		}
		valid[id] = policy
	}

	entries := make([]storage.PolicyEntry, 0, len(valid))
	for _, id := range slices.Sorted(maps.Keys(valid)) {
		entries = append(entries, storage.PolicyEntry{ID: id, Policy: valid[id]})
	}
	s.backend.ReplaceAll(entries, func(id string) bool {
		return id == domain.DefaultPolicyID
	})

	s.logger.Info("policies reloaded", "count", len(valid), "rejected", len(errs))
	return errors.Join(errs...)
}
