// Package auditor aggregates a completed contract cycle into an immutable,
// content-hashed audit report: one record per execution-log entry, a fixed
// compliance-framework check table per domain, a provenance summary, and
// recommendations. Checks here are evidentiary; gating already happened in
// the validator, sandbox, and contract.
package auditor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/canonical"
	"github.com/gatewright/gatewright/pkg/contract"
	"github.com/gatewright/gatewright/pkg/provenance"
	"github.com/gatewright/gatewright/pkg/sandbox"
)

// CheckStatus is the outcome of one compliance check.
type CheckStatus string

const (
	CheckPass    CheckStatus = "PASS"
	CheckFail    CheckStatus = "FAIL"
	CheckWarning CheckStatus = "WARNING"
)

// ComplianceCheck is one framework requirement with its evidence.
type ComplianceCheck struct {
	Framework   string      `json:"framework"`
	Requirement string      `json:"requirement"`
	Status      CheckStatus `json:"status"`
	Evidence    string      `json:"evidence"`
}

// AuditRecord is derived 1:1 from a contract execution-log entry.
type AuditRecord struct {
	Operation  string    `json:"operation"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
	ChainProof string    `json:"chain_proof"`
	Frameworks []string  `json:"frameworks,omitempty"`
}

// ProvenanceSummary captures the shared chain's state at report time.
type ProvenanceSummary struct {
	ChainLength int    `json:"chain_length"`
	Valid       bool   `json:"valid"`
	HeadProof   string `json:"head_proof"`
}

// Report is the immutable audit output of one completed cycle.
type Report struct {
	ID              string            `json:"report_id"`
	ContractID      string            `json:"contract_id"`
	CandidateID     string            `json:"candidate_id"`
	Records         []AuditRecord     `json:"records"`
	Checks          []ComplianceCheck `json:"compliance_checks"`
	Provenance      ProvenanceSummary `json:"provenance_summary"`
	Recommendations []string          `json:"recommendations"`
	GeneratedAt     time.Time         `json:"generated_at"`
	ContentHash     string            `json:"content_hash"`
}

// FrameworkTable maps a domain to its applicable compliance frameworks and
// their requirements.
type FrameworkTable map[string][]FrameworkSpec

// FrameworkSpec names one framework and its checked requirements.
type FrameworkSpec struct {
	Framework    string
	Requirements []string
}

// DefaultFrameworks returns the built-in per-domain compliance table. Every
// domain carries the three generic controls; regulated domains add their
// own.
func DefaultFrameworks() FrameworkTable {
	generic := FrameworkSpec{
		Framework:    "GDPR",
		Requirements: []string{"data-minimization", "purpose-limitation", "accountability"},
	}
	return FrameworkTable{
		"biodiscovery": {generic},
		"genomics": {
			generic,
			{Framework: "HIPAA", Requirements: []string{"access-control", "audit-control"}},
		},
		"materials":         {generic},
		"quantum-chemistry": {generic},
	}
}

// Generator builds audit reports from completed contracts.
type Generator struct {
	frameworks FrameworkTable
	chain      *provenance.Chain
	clock      func() time.Time
	log        *slog.Logger
}

// fidelity below which a specific recommendation is emitted.
const lowFidelityThreshold = 0.8

// NewGenerator creates an audit report generator over the shared chain.
func NewGenerator(frameworks FrameworkTable, chain *provenance.Chain, log *slog.Logger) *Generator {
	if frameworks == nil {
		frameworks = DefaultFrameworks()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		frameworks: frameworks,
		chain:      chain,
		clock:      time.Now,
		log:        log,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	g.clock = clock
	return g
}

// Generate produces the immutable report for a completed contract. The
// sandbox result is optional; when present it contributes a summary record
// and drives the fidelity/side-effect recommendations.
func (g *Generator) Generate(ctr *contract.Contract, cand *candidate.Candidate, sbx *sandbox.Result) (*Report, error) {
	specs := g.frameworks[cand.Domain]
	frameworkNames := make([]string, len(specs))
	for i, spec := range specs {
		frameworkNames[i] = spec.Framework
	}

	var proof string
	var summary ProvenanceSummary
	if g.chain != nil {
		proof = g.chain.Proof()
		valid, _ := g.chain.VerifyIntegrity()
		summary = ProvenanceSummary{
			ChainLength: g.chain.Length(),
			Valid:       valid,
			HeadProof:   proof,
		}
	}

	// One record per execution-log entry; the log is the sole source.
	records := make([]AuditRecord, 0, len(ctr.ExecutionLog())+1)
	for _, entry := range ctr.ExecutionLog() {
		records = append(records, AuditRecord{
			Operation:  entry.Operation,
			Actor:      entry.Actor,
			Timestamp:  entry.Timestamp,
			ChainProof: proof,
			Frameworks: frameworkNames,
		})
	}
	if sbx != nil {
		records = append(records, AuditRecord{
			Operation:  "final_result",
			Actor:      "system",
			Timestamp:  g.clock().UTC(),
			ChainProof: proof,
			Frameworks: frameworkNames,
		})
	}

	checks := g.runChecks(specs, ctr)
	recommendations := g.recommend(checks, sbx)

	report := &Report{
		ID:              "rpt-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12],
		ContractID:      ctr.ID,
		CandidateID:     cand.ID,
		Records:         records,
		Checks:          checks,
		Provenance:      summary,
		Recommendations: recommendations,
		GeneratedAt:     g.clock().UTC(),
	}

	hash, err := canonical.Hash(report)
	if err != nil {
		return nil, fmt.Errorf("auditor: failed to hash report: %w", err)
	}
	report.ContentHash = hash

	if g.chain != nil {
		_, _ = g.chain.Append(provenance.EventAuditReportGenerated, map[string]any{
			"report_id":    report.ID,
			"contract_id":  ctr.ID,
			"content_hash": hash,
		})
	}
	g.log.Info("audit report generated",
		"report_id", report.ID, "contract_id", ctr.ID, "checks", len(checks))
	return report, nil
}

// runChecks evaluates the domain's framework table. Checks are
// pass-by-construction evidence of the gates the cycle went through; a
// contract that never committed yields warnings instead.
func (g *Generator) runChecks(specs []FrameworkSpec, ctr *contract.Contract) []ComplianceCheck {
	committed := ctr.Status() == contract.StatusCommitted || ctr.Status() == contract.StatusRolledBack
	var checks []ComplianceCheck
	for _, spec := range specs {
		for _, req := range spec.Requirements {
			check := ComplianceCheck{
				Framework:   spec.Framework,
				Requirement: req,
				Status:      CheckPass,
				Evidence: fmt.Sprintf("execution log %d entries; sub-chain proof %s",
					len(ctr.ExecutionLog()), ctr.SubChainProof()),
			}
			if !committed {
				check.Status = CheckWarning
				check.Evidence = fmt.Sprintf("contract %s terminated in status %s", ctr.ID, ctr.Status())
			}
			checks = append(checks, check)
		}
	}
	return checks
}

// recommend produces one recommendation per failed or warning check, plus
// specific recommendations for low sandbox fidelity and detected side
// effects. Defaults to "no issues detected".
func (g *Generator) recommend(checks []ComplianceCheck, sbx *sandbox.Result) []string {
	var recs []string
	for _, check := range checks {
		if check.Status == CheckPass {
			continue
		}
		recs = append(recs, fmt.Sprintf("review %s requirement %q (%s)",
			check.Framework, check.Requirement, check.Status))
	}
	if sbx != nil {
		if sbx.Fidelity < lowFidelityThreshold {
			recs = append(recs, fmt.Sprintf(
				"sandbox fidelity %.2f below %.2f: re-run with adjusted inputs before resubmission",
				sbx.Fidelity, lowFidelityThreshold))
		}
		if len(sbx.SideEffects) > 0 {
			recs = append(recs, fmt.Sprintf(
				"%d side effect(s) detected in sandbox: reduce update magnitude or narrow targets",
				len(sbx.SideEffects)))
		}
	}
	if len(recs) == 0 {
		recs = []string{"no issues detected"}
	}
	return recs
}
