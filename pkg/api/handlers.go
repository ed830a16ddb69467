package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/eip712"
	"github.com/rojo-labs/txguard/pkg/policy"
	"github.com/rojo-labs/txguard/pkg/preflight"
)

const serviceName = "txguard"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"policies": s.policies.ListPolicies(),
	})
}

type addPolicyRequest struct {
	PolicyID string          `json:"policyId"`
	Policy   json.RawMessage `json:"policy"`
}

func (s *Server) handleAddPolicy(w http.ResponseWriter, r *http.Request) {
	var req addPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.policies.AddPolicy(req.PolicyID, req.Policy)
	if err != nil {
		var validationErrs policy.ValidationErrors
		switch {
		case errors.As(err, &validationErrs):
			s.writeError(w, r, http.StatusBadRequest, validationErrs)
		case errors.Is(err, domain.ErrProtectedPolicy):
			s.writeError(w, r, http.StatusForbidden, err.Error())
		default:
			s.logger.Error("failed to add policy", "policy_id", req.PolicyID, "error", err)
			s.writeError(w, r, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "policy": stored})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stored, err := s.policies.GetPolicy(id)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			s.writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "policy": stored})
}

func (s *Server) handleRemovePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.policies.RemovePolicy(id)
	if err != nil {
		if errors.Is(err, domain.ErrProtectedPolicy) {
			s.writeError(w, r, http.StatusForbidden, err.Error())
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": removed})
}

type transactionRequest struct {
	PolicyID    string             `json:"policyId"`
	Transaction domain.Transaction `json:"transaction"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	evaluation := s.evaluator.Evaluate(r.Context(), req.PolicyID, req.Transaction)
	s.metrics.RecordPolicyDecision(evaluation.Allowed)
	s.logger.Info("policy evaluation",
		"policy_id", evaluation.PolicyID,
		"allowed", evaluation.Allowed,
		"reason", evaluation.Reason,
		"request_id", RequestIDFromContext(r.Context()),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "evaluation": evaluation})
}

type inspectRequest struct {
	TypedData json.RawMessage `json:"typedData"`
	// Options is accepted for compatibility and ignored.
	Options json.RawMessage `json:"options,omitempty"`
}

type inspectionResponse struct {
	eip712.Result
	Summary string `json:"summary"`
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result := s.inspector.InspectJSON(r.Context(), req.TypedData)
	s.metrics.RecordInspection(string(result.Risk))
	s.logger.Info("typed data inspection",
		"safe", result.Safe,
		"risk", result.Risk,
		"request_id", RequestIDFromContext(r.Context()),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"inspection": inspectionResponse{Result: result, Summary: eip712.Summary(result)},
	})
}

func (s *Server) handleListTrusted(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "contracts": s.trust.List()})
}

type trustedContractRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleAddTrusted(w http.ResponseWriter, r *http.Request) {
	var req trustedContractRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if !s.trust.Add(strings.TrimSpace(req.Address)) {
		s.writeError(w, r, http.StatusBadRequest, "Invalid address format")
		return
	}
	s.metrics.SetTrustedContracts(len(s.trust.List()))
	s.logger.Info("trusted contract added", "address", req.Address)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Contract added to trusted list"})
}

func (s *Server) handleRemoveTrusted(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	removed := s.trust.Remove(address)
	if removed {
		s.metrics.SetTrustedContracts(len(s.trust.List()))
		s.logger.Info("trusted contract removed", "address", address)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": removed})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	validation := s.validator.Validate(r.Context(), req.PolicyID, req.Transaction)
	s.metrics.RecordValidation(string(validation.Recommendation))
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "validation": validation})
}

var _ TransactionValidator = (*preflight.Validator)(nil)
