package preflight

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed default.rego
var defaultModule string

// DefaultModuleName names the embedded Rego module.
const DefaultModuleName = "txguard/preflight/default.rego"

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "txguard/preflight/checks").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	// When empty the embedded default module is used.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	// Logger receives debug output. Nil selects slog.Default.
	Logger *slog.Logger
}

// Input is the normalized transaction view handed to Rego.
type Input struct {
	ChainID  *int64
	ValueWei string
	To       string
}

// Checks is the outcome of the security checks.
type Checks struct {
	NetworkAllowed   bool `json:"networkAllowed"`
	AmountReasonable bool `json:"amountReasonable"`
	AddressValid     bool `json:"addressValid"`
}

// Passed reports whether every check succeeded.
func (c Checks) Passed() bool {
	return c.NetworkAllowed && c.AmountReasonable && c.AddressValid
}

// Engine evaluates security checks using an embedded OPA SDK instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *lru.Cache[string, Checks]
	queries       map[string]*rego.PreparedEvalQuery
	logger        *slog.Logger
	mu            sync.RWMutex
}

const (
	defaultEntrypoint    = "txguard/preflight/checks"
	defaultCacheCapacity = 1024
)

// NewEngine constructs an Engine and compiles its entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	modules := opts.Modules
	if len(modules) == 0 {
		modules = map[string]string{DefaultModuleName: defaultModule}
	}

	maxEntries := opts.CacheMaxEntries
	if maxEntries == 0 {
		maxEntries = defaultCacheCapacity
	}

	var cache *lru.Cache[string, Checks]
	if maxEntries > 0 {
		var err error
		cache, err = lru.New[string, Checks](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create decision cache: %w", err)
		}
	}

	moduleOrder := make([]string, 0, len(modules))
	for name := range modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
		queries:       make(map[string]*rego.PreparedEvalQuery),
		logger:        logger,
	}

	// Warm the entrypoint to surface syntax errors early.
	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate runs the checks for input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Checks, error) {
	cacheKey := e.cacheKey(input)
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	prepared, err := e.getPreparedQuery(ctx, e.entrypoint)
	if err != nil {
		return Checks{}, fmt.Errorf("prepare query: %w", err)
	}

	payload := map[string]any{"to": input.To}
	if input.ChainID != nil {
		payload["chain_id"] = *input.ChainID
	}
	if input.ValueWei != "" {
		payload["value_wei"] = json.Number(input.ValueWei)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Checks{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Checks{}, errors.New("opa decision: entrypoint is undefined")
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Checks{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}
	e.logger.Debug("preflight checks evaluated", "entrypoint", e.entrypoint, "decision", decision)

	checks := Checks{
		NetworkAllowed:   decision["networkAllowed"] == true,
		AmountReasonable: decision["amountReasonable"] == true,
		AddressValid:     decision["addressValid"] == true,
	}

	if e.cache != nil {
		e.cache.Add(cacheKey, checks)
	}
	return checks, nil
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &prepared
	return &prepared, nil
}

// cacheKey hashes the entrypoint and normalized input fields.
func (e *Engine) cacheKey(input Input) string {
	h := sha256.New()
	writeCacheKeyField(h, e.entrypoint)
	if input.ChainID != nil {
		writeCacheKeyField(h, fmt.Sprintf("%d", *input.ChainID))
	} else {
		writeCacheKeyField(h, "")
	}
	writeCacheKeyField(h, input.ValueWei)
	writeCacheKeyField(h, input.To)
	return hex.EncodeToString(h.Sum(nil))
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}
