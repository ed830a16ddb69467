package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rojo-labs/txguard/internal/governance"
	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/eip712"
	"github.com/rojo-labs/txguard/pkg/preflight"
)

// Rate-limited route groups.
const (
	RouteEvaluate = "evaluate"
	RouteInspect  = "inspect"
	RouteValidate = "validate"
)

// PolicyService manages named policies.
type PolicyService interface {
	AddPolicy(id string, raw []byte) (domain.Policy, error)
	GetPolicy(id string) (domain.Policy, error)
	RemovePolicy(id string) (bool, error)
	ListPolicies() []domain.PolicySummary
}

// TransactionEvaluator decides a transaction against a policy.
type TransactionEvaluator interface {
	Evaluate(ctx context.Context, policyID string, tx domain.Transaction) domain.Evaluation
}

// TrustService manages trusted verifying contracts.
type TrustService interface {
	Add(address string) bool
	Remove(address string) bool
	List() []string
}

// MessageInspector inspects a raw typed-data document.
type MessageInspector interface {
	InspectJSON(ctx context.Context, raw []byte) eip712.Result
}

// TransactionValidator runs the pre-flight checks.
type TransactionValidator interface {
	Validate(ctx context.Context, policyID string, tx domain.Transaction) preflight.Validation
}

// Options wires the server dependencies. Limiter and Metrics are optional.
type Options struct {
	Policies  PolicyService
	Evaluator TransactionEvaluator
	Trust     TrustService
	Inspector MessageInspector
	Validator TransactionValidator
	Limiter   *governance.RateLimiter
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Server serves the JSON API.
type Server struct {
	policies  PolicyService
	evaluator TransactionEvaluator
	trust     TrustService
	inspector MessageInspector
	validator TransactionValidator
	limiter   *governance.RateLimiter
	metrics   *Metrics
	logger    *slog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = governance.NewRateLimiter(nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		policies:  opts.Policies,
		evaluator: opts.Evaluator,
		trust:     opts.Trust,
		inspector: opts.Inspector,
		validator: opts.Validator,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger,
	}
	if s.trust != nil {
		metrics.SetTrustedContracts(len(s.trust.List()))
	}
	return s
}

// Router builds the chi router without tracing instrumentation.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(s.metrics.MetricsMiddleware)
	r.Use(limitBodyMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/policies", func(policies chi.Router) {
			policies.Get("/", s.handleListPolicies)
			policies.Post("/", s.handleAddPolicy)
			policies.With(s.limiter.Middleware(RouteEvaluate)).Post("/evaluate", s.handleEvaluate)
			policies.Get("/{id}", s.handleGetPolicy)
			policies.Delete("/{id}", s.handleRemovePolicy)
		})

		api.Route("/eip712", func(eip chi.Router) {
			eip.With(s.limiter.Middleware(RouteInspect)).Post("/inspect", s.handleInspect)
			eip.Get("/trusted-contracts", s.handleListTrusted)
			eip.Post("/trusted-contracts", s.handleAddTrusted)
			eip.Delete("/trusted-contracts/{address}", s.handleRemoveTrusted)
		})

		api.With(s.limiter.Middleware(RouteValidate)).Post("/wallet/validate-transaction", s.handleValidate)
	})

	return r
}

// Handler returns the router wrapped with OpenTelemetry server instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.Router(), "txguard.api")
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
