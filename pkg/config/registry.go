package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/rojo-labs/txguard/pkg/storage"
)

// RegistrySeed is the content of the watched registry file: named policies and
// extra trusted contracts. A nil field leaves the matching registry untouched.
type RegistrySeed struct {
	Policies         map[string]json.RawMessage `json:"policies"`
	TrustedContracts []string                   `json:"trustedContracts"`
}

// registryYAML mirrors RegistrySeed for YAML documents.
type registryYAML struct {
	Policies         map[string]any `yaml:"policies"`
	TrustedContracts []string       `yaml:"trustedContracts"`
}

// PolicyReplacer swaps the set of named policies.
type PolicyReplacer interface {
	ReplacePolicies(docs map[string][]byte) error
}

// TrustReplacer swaps the set of trusted contracts.
type TrustReplacer interface {
	Replace(addresses []string) int
}

// LoadRegistrySeed reads and parses a registry file.
func LoadRegistrySeed(path string) (RegistrySeed, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return RegistrySeed{}, fmt.Errorf("failed to read registry file: %w", err)
	}
	return ParseRegistrySeed(data)
}

// ParseRegistrySeed decodes a JSON or YAML registry document. JSON keeps large
// integers exact; YAML numbers go through float64 past the int64 range.
func ParseRegistrySeed(data []byte) (RegistrySeed, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return RegistrySeed{}, nil
	}

	if trimmed[0] == '{' {
		var seed RegistrySeed
		if err := json.Unmarshal(trimmed, &seed); err != nil {
			return RegistrySeed{}, fmt.Errorf("failed to parse registry file: %w", err)
		}
		return seed, nil
	}

	var doc registryYAML
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return RegistrySeed{}, fmt.Errorf("failed to parse registry file: %w", err)
	}

	seed := RegistrySeed{TrustedContracts: doc.TrustedContracts}
	if doc.Policies != nil {
		seed.Policies = make(map[string]json.RawMessage, len(doc.Policies))
		for id, body := range doc.Policies {
			raw, err := json.Marshal(body)
			if err != nil {
				return RegistrySeed{}, fmt.Errorf("policy %q: %w", id, err)
			}
			seed.Policies[id] = raw
		}
	}
	return seed, nil
}

// Apply replaces the stored policies and the trusted contracts with the seed.
// The built-in router contracts stay trusted. Invalid entries are reported but
// do not stop the valid ones from being applied.
func (s RegistrySeed) Apply(policies PolicyReplacer, trust TrustReplacer) error {
	var errs []error
	if s.Policies != nil && policies != nil {
		docs := make(map[string][]byte, len(s.Policies))
		for id, raw := range s.Policies {
			docs[id] = raw
		}
		if err := policies.ReplacePolicies(docs); err != nil {
			errs = append(errs, err)
		}
	}

	if s.TrustedContracts != nil && trust != nil {
		addresses := slices.Concat(storage.DefaultTrustedContracts, s.TrustedContracts)
		for _, address := range s.TrustedContracts {
			if !storage.ValidAddress(address) {
				errs = append(errs, fmt.Errorf("trusted contract %q: invalid address format", address))
			}
		}
		trust.Replace(addresses)
	}
	return errors.Join(errs...)
}
