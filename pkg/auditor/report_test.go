package auditor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/contract"
	"github.com/gatewright/gatewright/pkg/provenance"
	"github.com/gatewright/gatewright/pkg/sandbox"
)

func testCandidate(domain string) *candidate.Candidate {
	return candidate.New(candidate.SubmitRequest{
		Domain:      domain,
		Description: "test candidate",
		Payload:     map[string]any{"method": "vqe"},
		Score: candidate.Score{
			MutualInformation:     0.75,
			CrossImpact:           0.65,
			Confidence:            0.85,
			Novelty:               0.6,
			EntropyReduction:      0.55,
			CompressionEfficiency: 0.5,
		},
		SourceWorkflowID: "wf-test",
		ProvenanceHash:   "sha256:0000000000000000000000000000000000000000000000000000000000000000",
	})
}

func committedContract(t *testing.T, cand *candidate.Candidate, shared *provenance.Chain) *contract.Contract {
	t.Helper()
	ctr := contract.New(cand.ID, []string{"alice", "bob"}, shared, nil)
	require.True(t, ctr.Submit("system"))
	require.True(t, ctr.BeginSandbox("system"))
	require.True(t, ctr.CompleteSandbox("system", 0.95, 0))
	require.NoError(t, ctr.AddApproval("alice", contract.DecisionApprove, "lgtm"))
	require.NoError(t, ctr.AddApproval("bob", contract.DecisionApprove, "verified"))
	require.True(t, ctr.CommitZ2())
	return ctr
}

func TestGenerateCommittedContract(t *testing.T) {
	chain := provenance.NewChain()
	cand := testCandidate("biodiscovery")
	ctr := committedContract(t, cand, chain)

	gen := NewGenerator(nil, chain, nil).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	sbx := &sandbox.Result{
		CandidateID: cand.ID,
		Success:     true,
		Fidelity:    0.95,
	}

	report, err := gen.Generate(ctr, cand, sbx)
	require.NoError(t, err)

	assert.Equal(t, ctr.ID, report.ContractID)
	assert.Equal(t, cand.ID, report.CandidateID)
	assert.True(t, len(report.ID) > 4 && report.ID[:4] == "rpt-")
	assert.NotEmpty(t, report.ContentHash)
	assert.Contains(t, report.ContentHash, "sha256:")

	// One record per execution-log entry plus the final-result summary.
	assert.Len(t, report.Records, len(ctr.ExecutionLog())+1)
	last := report.Records[len(report.Records)-1]
	assert.Equal(t, "final_result", last.Operation)
	assert.Equal(t, "system", last.Actor)

	// Biodiscovery carries the three generic checks, all passing.
	require.Len(t, report.Checks, 3)
	for _, check := range report.Checks {
		assert.Equal(t, CheckPass, check.Status)
		assert.Equal(t, "GDPR", check.Framework)
		assert.NotEmpty(t, check.Evidence)
	}

	assert.Equal(t, []string{"no issues detected"}, report.Recommendations)

	// Summary is captured before the report's own event is appended.
	assert.True(t, report.Provenance.Valid)
	assert.Equal(t, chain.Length()-1, report.Provenance.ChainLength)
	assert.NotEmpty(t, report.Provenance.HeadProof)
}

func TestGenomicsAddsHIPAAChecks(t *testing.T) {
	chain := provenance.NewChain()
	cand := testCandidate("genomics")
	ctr := committedContract(t, cand, chain)

	report, err := NewGenerator(nil, chain, nil).Generate(ctr, cand, nil)
	require.NoError(t, err)

	// 3 generic + 2 HIPAA.
	require.Len(t, report.Checks, 5)
	frameworks := map[string]int{}
	for _, check := range report.Checks {
		frameworks[check.Framework]++
	}
	assert.Equal(t, 3, frameworks["GDPR"])
	assert.Equal(t, 2, frameworks["HIPAA"])

	requirements := map[string]bool{}
	for _, check := range report.Checks {
		requirements[check.Requirement] = true
	}
	assert.True(t, requirements["access-control"])
	assert.True(t, requirements["audit-control"])
}

func TestRecommendationsOnDegradedSandbox(t *testing.T) {
	chain := provenance.NewChain()
	cand := testCandidate("biodiscovery")
	ctr := committedContract(t, cand, chain)

	sbx := &sandbox.Result{
		CandidateID: cand.ID,
		Success:     false,
		Fidelity:    0.55,
		SideEffects: []string{"tgt-2: relative change 0.62 exceeds ceiling"},
	}
	report, err := NewGenerator(nil, chain, nil).Generate(ctr, cand, sbx)
	require.NoError(t, err)

	require.Len(t, report.Recommendations, 2)
	assert.Contains(t, report.Recommendations[0], "fidelity 0.55")
	assert.Contains(t, report.Recommendations[1], "side effect")
}

func TestUncommittedContractYieldsWarnings(t *testing.T) {
	chain := provenance.NewChain()
	cand := testCandidate("biodiscovery")
	ctr := contract.New(cand.ID, []string{"alice"}, chain, nil)
	require.True(t, ctr.Submit("system"))

	report, err := NewGenerator(nil, chain, nil).Generate(ctr, cand, nil)
	require.NoError(t, err)

	require.Len(t, report.Checks, 3)
	for _, check := range report.Checks {
		assert.Equal(t, CheckWarning, check.Status)
		assert.Contains(t, check.Evidence, string(contract.StatusSubmitted))
	}
	// Each warning check produces a recommendation.
	assert.Len(t, report.Recommendations, 3)
}

func TestUnknownDomainHasNoChecks(t *testing.T) {
	chain := provenance.NewChain()
	cand := testCandidate("astrology")
	ctr := committedContract(t, cand, chain)

	report, err := NewGenerator(nil, chain, nil).Generate(ctr, cand, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Checks)
	assert.Equal(t, []string{"no issues detected"}, report.Recommendations)
}

func TestReportAppendsProvenanceEvent(t *testing.T) {
	chain := provenance.NewChain()
	cand := testCandidate("biodiscovery")
	ctr := committedContract(t, cand, chain)

	before := chain.Length()
	report, err := NewGenerator(nil, chain, nil).Generate(ctr, cand, nil)
	require.NoError(t, err)

	assert.Equal(t, before+1, chain.Length())
	events := chain.Events()
	lastEvent := events[len(events)-1]
	assert.Equal(t, provenance.EventAuditReportGenerated, lastEvent.Type)
	assert.Equal(t, report.ID, lastEvent.Details["report_id"])

	valid, _ := chain.VerifyIntegrity()
	assert.True(t, valid)
}
