package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rojo-labs/txguard/pkg/domain"
)

var (
	weiPattern         = regexp.MustCompile(`^[0-9]+$`)
	addressPattern     = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	descriptionPattern = regexp.MustCompile(`^[A-Za-z0-9 ,.]{1,50}$`)

	abiStandards = map[string]struct{}{"erc20": {}, "erc721": {}, "erc1155": {}}
)

const descriptionMessage = "must be 1 to 50 characters of letters, digits, spaces, commas and periods"

// ValidationError describes a single schema violation.
type ValidationError struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationErrors is returned when a policy document fails schema validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "policy validation failed"
	}
	parts := make([]string, 0, len(v))
	for _, item := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", item.Path, item.Message))
	}
	return "policy validation failed: " + strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func schemaValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("wei", func(fl validator.FieldLevel) bool {
			return weiPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("evmaddress", func(fl validator.FieldLevel) bool {
			return addressPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("policydesc", func(fl validator.FieldLevel) bool {
			return descriptionPattern.MatchString(fl.Field().String())
		})
		v.RegisterStructValidation(validateNetUSDChange, domain.NetUSDChangeCriterion{})
		v.RegisterStructValidation(validateEvmData, domain.EvmDataCriterion{})
		validate = v
	})
	return validate
}

func validateNetUSDChange(sl validator.StructLevel) {
	criterion := sl.Current().Interface().(domain.NetUSDChangeCriterion)
	switch {
	case criterion.ChangeCents == nil:
		sl.ReportError(criterion.ChangeCents, "changeCents", "ChangeCents", "required", "")
	case criterion.ChangeCents.Sign() < 0:
		sl.ReportError(criterion.ChangeCents, "changeCents", "ChangeCents", "gte", "0")
	}
}

func validateEvmData(sl validator.StructLevel) {
	criterion := sl.Current().Interface().(domain.EvmDataCriterion)
	if criterion.ABI.Entries != nil {
		return
	}
	if _, ok := abiStandards[criterion.ABI.Standard]; !ok {
		sl.ReportError(criterion.ABI, "abi", "ABI", "abi", "")
	}
}

// ParsePolicy decodes and validates a policy document. Any violation is
// reported through ValidationErrors with a path into the document.
func ParsePolicy(raw []byte) (domain.Policy, error) {
	policy, hasDescription, errs := decodePolicy(raw)
	if len(errs) > 0 {
		return domain.Policy{}, errs
	}

	errs = ValidatePolicy(policy)
	// The model omits an empty description, so a present but empty one is
	// caught here.
	if hasDescription && policy.Description == "" {
		errs = append(ValidationErrors{{Path: "description", Rule: "policydesc", Message: descriptionMessage}}, errs...)
	}
	if len(errs) > 0 {
		return domain.Policy{}, errs
	}
	return policy, nil
}

// ValidatePolicy runs the schema rules against an already decoded policy.
func ValidatePolicy(policy domain.Policy) ValidationErrors {
	err := schemaValidator().Struct(policy)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Path: "policy", Rule: "invalid", Message: err.Error()}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:    fieldPath(fe.Namespace()),
			Rule:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return out
}

func fieldPath(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "eq":
		return fmt.Sprintf("must equal %q", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must contain at most %s item(s)", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "wei":
		return "must be a non-negative decimal integer"
	case "evmaddress":
		return "must match ^0x[a-fA-F0-9]{40}$"
	case "policydesc":
		return descriptionMessage
	case "abi":
		return "must be erc20, erc721, erc1155 or an ABI array"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// policyDocument mirrors domain.Policy with raw rules so decode failures can be
// attributed to an exact index.
type policyDocument struct {
	Scope       domain.Scope      `json:"scope"`
	Description *string           `json:"description"`
	Rules       []json.RawMessage `json:"rules"`
}

type ruleDocument struct {
	Action    domain.RuleAction `json:"action"`
	Operation string            `json:"operation"`
	Criteria  []json.RawMessage `json:"criteria"`
}

// decodePolicy also reports whether the document carried a description key with
// a non-null value.
func decodePolicy(raw []byte) (domain.Policy, bool, ValidationErrors) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.Policy{}, false, ValidationErrors{{Path: "policy", Rule: "required", Message: "is required"}}
	}

	var doc policyDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return domain.Policy{}, false, ValidationErrors{decodeError("", err)}
	}

	policy := domain.Policy{Scope: doc.Scope}
	if doc.Description != nil {
		policy.Description = *doc.Description
	}
	if doc.Rules != nil {
		policy.Rules = make([]domain.Rule, 0, len(doc.Rules))
	}

	var errs ValidationErrors
	for i, rawRule := range doc.Rules {
		rulePath := fmt.Sprintf("rules[%d]", i)

		var ruleDoc ruleDocument
		if err := json.Unmarshal(rawRule, &ruleDoc); err != nil {
			errs = append(errs, decodeError(rulePath, err))
			continue
		}

		rule := domain.Rule{Action: ruleDoc.Action, Operation: ruleDoc.Operation}
		if ruleDoc.Criteria != nil {
			rule.Criteria = make([]domain.Criterion, 0, len(ruleDoc.Criteria))
		}
		for j, rawCriterion := range ruleDoc.Criteria {
			criterionPath := fmt.Sprintf("%s.criteria[%d]", rulePath, j)
			criterion, err := domain.DecodeCriterion(rawCriterion)
			if err != nil {
				var unknown *domain.UnknownCriterionTypeError
				if errors.As(err, &unknown) && unknown.Type == "" {
					errs = append(errs, ValidationError{Path: criterionPath + ".type", Rule: "required", Message: "is required"})
					continue
				}
				if errors.As(err, &unknown) {
					errs = append(errs, ValidationError{
						Path:    criterionPath + ".type",
						Rule:    "oneof",
						Message: fmt.Sprintf("unknown criterion type %q", unknown.Type),
					})
					continue
				}
				errs = append(errs, decodeError(criterionPath, err))
				continue
			}
			rule.Criteria = append(rule.Criteria, criterion)
		}
		policy.Rules = append(policy.Rules, rule)
	}

	return policy, doc.Description != nil, errs
}

func decodeError(prefix string, err error) ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := typeErr.Field
		switch {
		case prefix != "" && path != "":
			path = prefix + "." + path
		case path == "":
			path = prefix
		}
		if path == "" {
			path = "policy"
		}
		return ValidationError{
			Path:    path,
			Rule:    "type",
			Message: fmt.Sprintf("must be %s", jsonKind(typeErr.Type)),
		}
	}

	path := prefix
	if path == "" {
		path = "policy"
	}
	return ValidationError{Path: path, Rule: "json", Message: err.Error()}
}

func jsonKind(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	case reflect.Bool:
		return "a boolean"
	default:
		return "a " + t.Kind().String()
	}
}
