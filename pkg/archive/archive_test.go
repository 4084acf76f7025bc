package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewright/gatewright/pkg/auditor"
	"github.com/gatewright/gatewright/pkg/provenance"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func testReport(id string, generatedAt time.Time) *auditor.Report {
	return &auditor.Report{
		ID:              id,
		ContractID:      "ctr-abc",
		CandidateID:     "cand-xyz",
		Checks:          []auditor.ComplianceCheck{{Framework: "GDPR", Requirement: "accountability", Status: auditor.CheckPass}},
		Recommendations: []string{"no issues detected"},
		GeneratedAt:     generatedAt,
		ContentHash:     "sha256:deadbeef",
	}
}

func TestSaveAndGetReport(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	report := testReport("rpt-000000000001", time.Now().UTC())
	require.NoError(t, store.SaveReport(ctx, report))

	got, err := store.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ContractID, got.ContractID)
	assert.Equal(t, report.ContentHash, got.ContentHash)
	assert.Equal(t, report.Recommendations, got.Recommendations)
	require.Len(t, got.Checks, 1)
	assert.Equal(t, auditor.CheckPass, got.Checks[0].Status)
}

func TestDuplicateReportIDRejected(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	report := testReport("rpt-000000000002", time.Now().UTC())
	require.NoError(t, store.SaveReport(ctx, report))
	assert.Error(t, store.SaveReport(ctx, report))
}

func TestGetReportNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetReport(context.Background(), "rpt-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListReportsNewestFirst(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"rpt-a", "rpt-b", "rpt-c"} {
		require.NoError(t, store.SaveReport(ctx, testReport(id, base.Add(time.Duration(i)*time.Hour))))
	}

	summaries, err := store.ListReports(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "rpt-c", summaries[0].ReportID)
	assert.Equal(t, "rpt-b", summaries[1].ReportID)
	assert.Equal(t, "sha256:deadbeef", summaries[0].ContentHash)
}

func TestSaveAndVerifyChainExport(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	chain := provenance.NewChain()
	_, err := chain.Append(provenance.EventCandidateSubmitted, map[string]any{"candidate_id": "cand-1"})
	require.NoError(t, err)
	_, err = chain.Append(provenance.EventValidationCompleted, map[string]any{"valid": true})
	require.NoError(t, err)

	require.NoError(t, store.SaveExport(ctx, chain.Export()))

	body, err := store.LatestExport(ctx)
	require.NoError(t, err)
	require.NotNil(t, body)

	valid, reason := provenance.VerifyExport(body)
	assert.True(t, valid, reason)
}

func TestLatestExportEmpty(t *testing.T) {
	store := testStore(t)
	body, err := store.LatestExport(context.Background())
	require.NoError(t, err)
	assert.Nil(t, body)
}
