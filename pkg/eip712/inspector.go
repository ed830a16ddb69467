package eip712

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/storage"
	"github.com/rojo-labs/txguard/pkg/telemetry"
)

// Risk grades an inspection.
type Risk string

// Risk levels.
const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Score weights and thresholds.
const (
	scorePerError     = 10
	scorePerWarning   = 3
	scoreUnlimited    = 5
	scoreHighRiskType = 4
	scoreUntrusted    = 2
	thresholdCritical = 15
	thresholdHigh     = 10
	thresholdMedium   = 5
)

const deadlineLayoutMillis = "2006-01-02T15:04:05.000Z"

// Result is the verdict for one typed-data document.
type Result struct {
	Safe     bool           `json:"safe"`
	Warnings []string       `json:"warnings"`
	Errors   []string       `json:"errors"`
	Risk     Risk           `json:"risk"`
	Details  map[string]any `json:"details"`
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Safe = false
}

func (r *Result) flag(key string) bool {
	v, _ := r.Details[key].(bool)
	return v
}

// TrustChecker reports whether a verifying contract is trusted.
type TrustChecker interface {
	IsTrusted(address string) bool
}

// Inspector runs the heuristic pipeline over typed-data documents. It is safe
// for concurrent use as long as the TrustChecker is.
type Inspector struct {
	trust      TrustChecker
	heuristics Heuristics
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option customizes an Inspector.
type Option func(*Inspector)

// WithClock overrides the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(i *Inspector) {
		if now != nil {
			i.now = now
		}
	}
}

// WithHeuristics replaces the default heuristic tables.
func WithHeuristics(h Heuristics) Option {
	return func(i *Inspector) {
		i.heuristics = h
	}
}

// WithLogger sets the inspector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Inspector) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInspector constructs an Inspector. A nil TrustChecker trusts nothing.
func NewInspector(trust TrustChecker, opts ...Option) *Inspector {
	if trust == nil {
		trust = storage.NewTrustRegistryWith()
	}
	i := &Inspector{
		trust:      trust,
		heuristics: DefaultHeuristics(),
		now:        time.Now,
		logger:     slog.Default(),
		tracer:     otel.Tracer("txguard/eip712"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// InspectJSON decodes raw and inspects it. Undecodable input is reported as a
// critical, unsafe result.
func (i *Inspector) InspectJSON(ctx context.Context, raw []byte) Result {
	td, err := DecodeTypedData(raw)
	if err != nil {
		result := newResult()
		result.fail("error during inspection: %v", err)
		result.Risk = RiskCritical
		return result
	}
	return i.Inspect(ctx, td)
}

// Inspect runs every stage over td and scores the findings. It never panics;
// internal failures yield an unsafe, critical result.
func (i *Inspector) Inspect(ctx context.Context, td TypedData) (result Result) {
	ctx, span := i.tracer.Start(ctx, "eip712.inspect", trace.WithAttributes(
		attribute.String("eip712.primary_type", td.PrimaryType),
	))
	defer span.End()

	result = newResult()
	defer func() {
		if r := recover(); r != nil {
			result.fail("error during inspection: %v", r)
			result.Risk = RiskCritical
			i.logger.Error("typed data inspection panicked", "panic", r)
		}
		telemetry.RecordRiskEvent(span, result.Safe, string(result.Risk), len(result.Errors), len(result.Warnings))
		telemetry.RecordInspection(ctx, telemetry.InspectionOutcome{
			PrimaryType: td.PrimaryType,
			Risk:        string(result.Risk),
			Safe:        result.Safe,
		})
		i.logger.Debug("typed data inspected",
			"primary_type", td.PrimaryType,
			"safe", result.Safe,
			"risk", result.Risk,
			"errors", len(result.Errors),
			"warnings", len(result.Warnings),
		)
	}()

	i.validateStructure(td, &result)
	i.checkVerifyingContract(td, &result)
	i.checkPrimaryType(td, &result)
	i.inspectDomain(td, &result)
	i.scanMessage(td, &result)
	i.scanCriticalFields(td, &result)
	i.checkCriticalValues(td, &result)
	i.recordSigningHash(td, &result)
	i.score(&result)

	return result
}

func newResult() Result {
	return Result{
		Safe:     true,
		Warnings: []string{},
		Errors:   []string{},
		Risk:     RiskLow,
		Details:  map[string]any{},
	}
}

func (i *Inspector) validateStructure(td TypedData, r *Result) {
	valid := true
	if td.Types == nil {
		r.fail(`invalid EIP-712 structure: missing "types"`)
		valid = false
	}
	if td.PrimaryType == "" {
		r.fail(`invalid EIP-712 structure: missing "primaryType"`)
		valid = false
	}
	if td.Domain == nil {
		r.fail(`invalid EIP-712 structure: missing "domain"`)
		valid = false
	}
	if td.Message == nil {
		r.fail(`invalid EIP-712 structure: missing "message"`)
		valid = false
	}
	if valid {
		r.Details["structure"] = "valid"
	}
}

func (i *Inspector) checkVerifyingContract(td TypedData, r *Result) {
	if td.Domain == nil || td.Domain.VerifyingContract == "" {
		r.warn("no verifying contract specified")
		return
	}

	contract := td.Domain.VerifyingContract
	if !storage.ValidAddress(contract) {
		r.fail("invalid verifying contract address: %s", contract)
		return
	}
	r.Details["verifyingContract"] = contract

	if i.trust.IsTrusted(contract) {
		r.Details["contractTrusted"] = true
	} else {
		r.warn("unknown verifying contract: %s", contract)
		r.Details["contractTrusted"] = false
	}

	if slices.Contains(i.heuristics.SuspiciousContracts, strings.ToLower(contract)) {
		r.fail("suspicious verifying contract: %s", contract)
	}
}

func (i *Inspector) checkPrimaryType(td TypedData, r *Result) {
	r.Details["primaryType"] = td.PrimaryType

	if slices.Contains(i.heuristics.HighRiskTypes, td.PrimaryType) {
		r.warn("high risk message type: %s", td.PrimaryType)
		r.Details["highRiskType"] = true
	}
	if slices.Contains(i.heuristics.SafeTypes, td.PrimaryType) {
		r.Details["commonSafeType"] = true
	}
}

func (i *Inspector) inspectDomain(td TypedData, r *Result) {
	d := td.Domain
	if d == nil {
		return
	}
	r.Details["domain"] = d

	if name := d.Name; name != "" {
		for _, risky := range i.heuristics.HighRiskDomainNames {
			if strings.Contains(name, risky) {
				r.fail("suspicious domain name: %s", name)
				break
			}
		}

		if !slices.Contains(i.heuristics.LegitDomainNames, name) {
			for _, pattern := range i.heuristics.TyposquatPatterns {
				if pattern.Expr.MatchString(name) {
					r.warn("possible domain phishing: %s", name)
				}
			}
		}
	}

	if d.Version != "" && d.Version != i.heuristics.ExpectedDomainVersion {
		r.warn("unusual domain version: %s", d.Version)
	}

	if d.hasChainID() {
		chainID, ok := d.ChainIDInt64()
		if !ok || !slices.Contains(i.heuristics.SupportedChains, chainID) {
			r.warn("unsupported chain id: %v", d.ChainID)
		}
		r.Details["chainId"] = d.ChainID
	}
}

func (i *Inspector) scanMessage(td TypedData, r *Result) {
	serialized, err := json.Marshal(td.Message)
	if err != nil {
		serialized = nil
	}
	text := strings.ToLower(string(serialized))

	for _, pattern := range i.heuristics.SuspiciousMessagePatterns {
		if pattern.Expr.MatchString(text) {
			r.warn("suspicious pattern detected: %s", pattern.Name)
		}
	}

	value, ok := td.Message["value"].(string)
	if !ok || value == "" {
		return
	}

	lower := strings.ToLower(value)
	if strings.Contains(lower, "ffffffff") || lower == "0x"+strings.Repeat("f", 64) {
		r.warn("unlimited approval amount detected")
		r.Details["unlimitedApproval"] = true
	}

	amount, err := domain.ParseUint(value)
	if err != nil {
		return
	}
	if i.heuristics.HighValueThreshold != nil && amount.Cmp(i.heuristics.HighValueThreshold) > 0 {
		r.warn("very high value detected: %s", amount)
	}
}

func (i *Inspector) scanCriticalFields(td TypedData, r *Result) {
	for _, field := range i.heuristics.CriticalFields {
		address, ok := td.Message[field].(string)
		if !ok || !storage.ValidAddress(address) {
			continue
		}
		if slices.Contains(i.heuristics.SuspiciousFieldAddresses, strings.ToLower(address)) {
			r.warn("field %s points to a suspicious address: %s", field, address)
		}
		r.Details[field+"Address"] = address
	}
}

func (i *Inspector) checkCriticalValues(td TypedData, r *Result) {
	if raw, ok := td.Message["deadline"]; ok && truthy(raw) {
		i.checkDeadline(raw, r)
	}
	if nonce, ok := td.Message["nonce"]; ok {
		r.Details["nonce"] = nonce
	}
}

func (i *Inspector) checkDeadline(raw any, r *Result) {
	text, ok := scalarText(raw)
	if !ok {
		r.fail("invalid deadline: %v", raw)
		return
	}
	deadline, display, ok := parseDeadline(text)
	if !ok {
		r.fail("invalid deadline: %s", text)
		return
	}

	now := i.now()
	nowUnix := new(big.Float).SetInt64(now.Unix())
	horizon := new(big.Float).SetInt64(now.Add(i.heuristics.DeadlineHorizon).Unix())

	switch {
	case deadline.Cmp(nowUnix) < 0:
		r.fail("deadline expired")
	case deadline.Cmp(horizon) > 0:
		r.warn("deadline too far in the future (>%s)", formatHorizon(i.heuristics.DeadlineHorizon))
	}

	r.Details["deadline"] = display
	if millis, ok := renderableMillis(deadline); ok {
		r.Details["deadline"] = time.UnixMilli(millis).UTC().Format(deadlineLayoutMillis)
	}
}

// Renderable instants span years 0001 through 9999.
const (
	minRenderableUnix = -62135596800
	maxRenderableUnix = 253402300799
)

// parseDeadline accepts integers in decimal or 0x hex and any finite decimal
// number, including exponent forms such as 1.7e9. display is the value as
// reported when it cannot be rendered as a date.
func parseDeadline(text string) (deadline *big.Float, display string, ok bool) {
	text = strings.TrimSpace(text)
	if n, err := domain.ParseUint(text); err == nil {
		return new(big.Float).SetInt(n), n.String(), true
	}
	f, _, err := big.ParseFloat(text, 10, 256, big.ToNearestEven)
	if err != nil || f.IsInf() {
		return nil, "", false
	}
	return f, text, true
}

// renderableMillis converts seconds to whole milliseconds, truncating toward
// zero, when the instant falls in a four digit year.
func renderableMillis(seconds *big.Float) (int64, bool) {
	if seconds.Cmp(big.NewFloat(minRenderableUnix)) < 0 || seconds.Cmp(big.NewFloat(maxRenderableUnix)) > 0 {
		return 0, false
	}
	millis, _ := new(big.Float).Mul(seconds, big.NewFloat(1000)).Int64()
	return millis, true
}

func formatHorizon(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	return d.String()
}

// truthy treats null, false, empty strings and numeric zero as absent.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

func (i *Inspector) recordSigningHash(td TypedData, r *Result) {
	if td.Types == nil || td.Domain == nil || td.Message == nil {
		return
	}
	if _, ok := td.Types["EIP712Domain"]; !ok {
		return
	}
	if _, ok := td.Types[td.PrimaryType]; !ok {
		return
	}
	if digest, ok := SigningHash(td); ok {
		r.Details["signingHash"] = digest
	}
}

func (i *Inspector) score(r *Result) {
	score := scorePerError*len(r.Errors) + scorePerWarning*len(r.Warnings)
	if r.flag("unlimitedApproval") {
		score += scoreUnlimited
	}
	if r.flag("highRiskType") {
		score += scoreHighRiskType
	}
	if !r.flag("contractTrusted") {
		score += scoreUntrusted
	}

	switch {
	case score >= thresholdCritical:
		r.Risk = RiskCritical
		r.Safe = false
	case score >= thresholdHigh:
		r.Risk = RiskHigh
	case score >= thresholdMedium:
		r.Risk = RiskMedium
	default:
		r.Risk = RiskLow
	}
}
