// Package validation implements the multi-check admission gate in front of
// the mapper. It fails closed: any structural, provenance, threshold, or
// domain-rule error invalidates the whole result; warnings never block.
package validation

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/provenance"
)

// ErrorKind classifies a validation issue.
type ErrorKind string

const (
	KindStructural     ErrorKind = "STRUCTURAL"
	KindProvenance     ErrorKind = "PROVENANCE"
	KindThreshold      ErrorKind = "THRESHOLD"
	KindDomainRule     ErrorKind = "DOMAIN_RULE"
	KindCrossImpact    ErrorKind = "CROSS_IMPACT"
	KindConfidenceWarn ErrorKind = "CONFIDENCE_WARNING"
	KindComplianceNote ErrorKind = "COMPLIANCE_NOTE"
)

// Issue is a single validation error or warning.
type Issue struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Check names used in per-check pass counts.
const (
	CheckStructural      = "structural"
	CheckProvenance      = "provenance"
	CheckThresholds      = "thresholds"
	CheckDomainRules     = "domain_rules"
	CheckComplianceNotes = "compliance_notes"
	CheckCrossImpact     = "cross_impact_floor"
)

// Result is the outcome of validating one candidate. It may be regenerated
// if the candidate is resubmitted.
type Result struct {
	Valid       bool            `json:"valid"`
	Errors      []Issue         `json:"errors,omitempty"`
	Warnings    []Issue         `json:"warnings,omitempty"`
	CheckCounts map[string]int  `json:"check_counts"`
	Level       candidate.Level `json:"level"`
}

// DomainRules is the static per-domain validation configuration.
type DomainRules struct {
	// ConfidenceThreshold below which a warning (never an error) is raised.
	ConfidenceThreshold float64
	// MinLevel, if set, forbids validating this domain below that rigor.
	MinLevel candidate.Level
	// PayloadSchema is a JSON Schema document for the candidate payload.
	PayloadSchema string
	// Rules are CEL expressions over `candidate` and `payload`; each must
	// evaluate to true.
	Rules []string
	// Frameworks lists applicable compliance frameworks, surfaced as
	// informational notes at enhanced rigor and above.
	Frameworks []string
}

// Config holds the validator's global thresholds and domain tables.
type Config struct {
	MinComposite      float64
	MinMI             float64
	CrossImpactFloor  float64
	DefaultConfidence float64
	Domains           map[string]DomainRules
}

type compiledDomain struct {
	rules  DomainRules
	schema *jsonschema.Schema
	progs  []cel.Program
	exprs  []string
}

// Validator runs the admission checks in order and appends one provenance
// event per validation.
type Validator struct {
	cfg       Config
	domains   map[string]compiledDomain
	structval *validator.Validate
	chain     *provenance.Chain
	log       *slog.Logger
}

var provenanceHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// NewValidator compiles the domain rule programs and payload schemas up
// front so Validate itself never parses.
func NewValidator(cfg Config, chain *provenance.Chain, log *slog.Logger) (*Validator, error) {
	if log == nil {
		log = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("candidate", cel.DynType),
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("validation: failed to create CEL environment: %w", err)
	}

	domains := make(map[string]compiledDomain, len(cfg.Domains))
	for name, rules := range cfg.Domains {
		cd := compiledDomain{rules: rules}

		if rules.PayloadSchema != "" {
			schema, err := jsonschema.CompileString(name+"-payload.json", rules.PayloadSchema)
			if err != nil {
				return nil, fmt.Errorf("validation: domain %q payload schema: %w", name, err)
			}
			cd.schema = schema
		}

		for _, expr := range rules.Rules {
			ast, issues := env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("validation: domain %q rule %q: %w", name, expr, issues.Err())
			}
			prog, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("validation: domain %q rule %q: %w", name, expr, err)
			}
			cd.progs = append(cd.progs, prog)
			cd.exprs = append(cd.exprs, expr)
		}
		domains[name] = cd
	}

	return &Validator{
		cfg:       cfg,
		domains:   domains,
		structval: validator.New(),
		chain:     chain,
		log:       log,
	}, nil
}

// Validate runs the admission checks against a candidate at the given
// rigor. Checks (a)-(d) and (f) produce errors; (c) confidence and (e)
// compliance notes produce warnings only.
func (v *Validator) Validate(c *candidate.Candidate, level candidate.Level) *Result {
	if !level.Valid() {
		level = candidate.LevelStandard
	}
	result := &Result{
		Level:       level,
		CheckCounts: make(map[string]int),
	}

	v.checkStructural(c, result)
	v.checkProvenanceHash(c, result)
	v.checkThresholds(c, result)
	v.checkDomainRules(c, level, result)
	if level.AtLeast(candidate.LevelEnhanced) {
		v.noteComplianceFrameworks(c, result)
	}
	if level == candidate.LevelCritical {
		v.checkCrossImpactFloor(c, result)
	}

	result.Valid = len(result.Errors) == 0

	if v.chain != nil {
		_, _ = v.chain.Append(provenance.EventValidationCompleted, map[string]any{
			"candidate_id": c.ID,
			"level":        string(level),
			"valid":        result.Valid,
			"errors":       len(result.Errors),
			"warnings":     len(result.Warnings),
		})
	}
	v.log.Debug("validated candidate",
		"candidate_id", c.ID, "level", string(level), "valid", result.Valid)
	return result
}

// checkStructural verifies required fields and score-signal ranges.
func (v *Validator) checkStructural(c *candidate.Candidate, result *Result) {
	pass := 1
	if err := v.structval.Struct(c); err != nil {
		pass = 0
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result.Errors = append(result.Errors, Issue{
					Kind:    KindStructural,
					Message: fmt.Sprintf("field %s fails %q constraint", fe.Field(), fe.Tag()),
				})
			}
		} else {
			result.Errors = append(result.Errors, Issue{
				Kind:    KindStructural,
				Message: err.Error(),
			})
		}
	}
	result.CheckCounts[CheckStructural] = pass
}

// checkProvenanceHash requires a well-formed 64-character hex digest.
func (v *Validator) checkProvenanceHash(c *candidate.Candidate, result *Result) {
	if provenanceHashPattern.MatchString(c.ProvenanceHash) {
		result.CheckCounts[CheckProvenance] = 1
		return
	}
	result.CheckCounts[CheckProvenance] = 0
	result.Errors = append(result.Errors, Issue{
		Kind:    KindProvenance,
		Message: fmt.Sprintf("provenance hash %q is not a 64-character hex digest", c.ProvenanceHash),
	})
}

// checkThresholds enforces the global composite and mutual-information
// minimums; low confidence is a warning only.
func (v *Validator) checkThresholds(c *candidate.Candidate, result *Result) {
	pass := 1
	if composite := c.Score.Composite(); composite <= v.cfg.MinComposite {
		pass = 0
		result.Errors = append(result.Errors, Issue{
			Kind:    KindThreshold,
			Message: fmt.Sprintf("composite score %.3f below minimum %.3f", composite, v.cfg.MinComposite),
		})
	}
	if c.Score.MutualInformation <= v.cfg.MinMI {
		pass = 0
		result.Errors = append(result.Errors, Issue{
			Kind:    KindThreshold,
			Message: fmt.Sprintf("mutual information %.3f below minimum %.3f", c.Score.MutualInformation, v.cfg.MinMI),
		})
	}

	threshold := v.cfg.DefaultConfidence
	if rules, ok := v.cfg.Domains[c.Domain]; ok && rules.ConfidenceThreshold > 0 {
		threshold = rules.ConfidenceThreshold
	}
	if c.Score.Confidence < threshold {
		result.Warnings = append(result.Warnings, Issue{
			Kind:    KindConfidenceWarn,
			Message: fmt.Sprintf("confidence %.3f below domain threshold %.3f", c.Score.Confidence, threshold),
		})
	}
	result.CheckCounts[CheckThresholds] = pass
}

// checkDomainRules enforces the domain's minimum rigor, payload schema, and
// CEL rules. Unknown domains fail closed.
func (v *Validator) checkDomainRules(c *candidate.Candidate, level candidate.Level, result *Result) {
	cd, ok := v.domains[c.Domain]
	if !ok {
		result.CheckCounts[CheckDomainRules] = 0
		result.Errors = append(result.Errors, Issue{
			Kind:    KindDomainRule,
			Message: fmt.Sprintf("unknown domain %q", c.Domain),
		})
		return
	}

	pass := 1
	if cd.rules.MinLevel != "" && !level.AtLeast(cd.rules.MinLevel) {
		pass = 0
		result.Errors = append(result.Errors, Issue{
			Kind:    KindDomainRule,
			Message: fmt.Sprintf("domain %q requires validation level %s or above", c.Domain, cd.rules.MinLevel),
		})
	}

	if cd.schema != nil {
		if err := cd.schema.Validate(normalizePayload(c.Payload)); err != nil {
			pass = 0
			result.Errors = append(result.Errors, Issue{
				Kind:    KindDomainRule,
				Message: fmt.Sprintf("payload schema violation: %v", err),
			})
		}
	}

	input := map[string]any{
		"candidate": map[string]any{
			"id":          c.ID,
			"domain":      c.Domain,
			"description": c.Description,
			"targets":     c.TargetIDs,
			"score": map[string]any{
				"mutual_information": c.Score.MutualInformation,
				"cross_impact":       c.Score.CrossImpact,
				"confidence":         c.Score.Confidence,
			},
		},
		"payload": normalizePayload(c.Payload),
	}
	for i, prog := range cd.progs {
		out, _, err := prog.Eval(input)
		if err != nil {
			pass = 0
			result.Errors = append(result.Errors, Issue{
				Kind:    KindDomainRule,
				Message: fmt.Sprintf("rule %q failed to evaluate: %v", cd.exprs[i], err),
			})
			continue
		}
		if allowed, ok := out.Value().(bool); !ok || !allowed {
			pass = 0
			result.Errors = append(result.Errors, Issue{
				Kind:    KindDomainRule,
				Message: fmt.Sprintf("rule %q not satisfied", cd.exprs[i]),
			})
		}
	}
	result.CheckCounts[CheckDomainRules] = pass
}

// noteComplianceFrameworks surfaces framework applicability as informational
// warnings; never blocking.
func (v *Validator) noteComplianceFrameworks(c *candidate.Candidate, result *Result) {
	result.CheckCounts[CheckComplianceNotes] = 1
	cd, ok := v.domains[c.Domain]
	if !ok || len(cd.rules.Frameworks) == 0 {
		return
	}
	result.Warnings = append(result.Warnings, Issue{
		Kind: KindComplianceNote,
		Message: fmt.Sprintf("domain %q is subject to: %s",
			c.Domain, strings.Join(cd.rules.Frameworks, ", ")),
	})
}

// checkCrossImpactFloor enforces the additional cross-impact floor at the
// critical level.
func (v *Validator) checkCrossImpactFloor(c *candidate.Candidate, result *Result) {
	if c.Score.CrossImpact >= v.cfg.CrossImpactFloor {
		result.CheckCounts[CheckCrossImpact] = 1
		return
	}
	result.CheckCounts[CheckCrossImpact] = 0
	result.Errors = append(result.Errors, Issue{
		Kind: KindCrossImpact,
		Message: fmt.Sprintf("cross impact %.3f below critical-level floor %.3f",
			c.Score.CrossImpact, v.cfg.CrossImpactFloor),
	})
}

// normalizePayload makes the payload JSON-shaped for schema and CEL
// evaluation (numeric values become float64 as they would after decoding).
func normalizePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, val := range payload {
		switch n := val.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case float32:
			out[k] = float64(n)
		default:
			out[k] = val
		}
	}
	return out
}
