package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatewright/gatewright/pkg/archive"
	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/pipeline"
)

func newDemoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run one full admission cycle end to end",
		Long: `Submit a sample candidate, drive it through validation, sandbox, and
dual-control approval, commit it, and archive the audit report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), opts)
		},
	}
}

func runDemo(ctx context.Context, opts *rootOptions) error {
	profile, err := loadProfile(opts)
	if err != nil {
		return err
	}

	db, err := archive.Open(opts.ArchivePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store, err := archive.NewStore(db)
	if err != nil {
		return err
	}

	engine, err := pipeline.NewEngine(profile, store, nil, nil)
	if err != nil {
		return err
	}

	engine.Bus().Subscribe(func(e pipeline.TelemetryEvent) {
		fmt.Printf("[%d] %s\n", e.Epoch, e.Type)
	})

	cand, err := engine.SubmitCandidate(ctx, candidate.SubmitRequest{
		Domain:      "biodiscovery",
		Description: "improved binding affinity estimate for target family",
		Payload:     map[string]any{"method": "assay", "replicates": 3},
		Score: candidate.Score{
			MutualInformation:     0.75,
			CrossImpact:           0.65,
			Confidence:            0.85,
			Novelty:               0.6,
			EntropyReduction:      0.55,
			CompressionEfficiency: 0.5,
		},
		TargetIDs:        []string{"bio-target-1"},
		SourceWorkflowID: "wf-demo",
		ProvenanceHash:   "3f79bb7b435b05321651daefd374cdc681dc06faa65e374e38337b88ca046dea",
	})
	if err != nil {
		return err
	}
	fmt.Println("submitted:", cand.ID)

	result, err := engine.RunCycle(ctx, cand.ID, candidate.LevelStandard)
	if err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("cycle stopped at %s: %s", result.Stage, result.Err)
	}
	fmt.Printf("sandbox fidelity %.2f, contract %s awaiting approval\n",
		result.Sandbox.Fidelity, result.ContractID)

	if opts.ShadowMode {
		fmt.Printf("shadow mode: contract %s left awaiting approval, nothing committed\n",
			result.ContractID)
		return nil
	}

	for _, approver := range profile.Approvers {
		if err := engine.Approve(result.ContractID, approver, "demo approval"); err != nil {
			return err
		}
	}

	report, err := engine.FinalizeContract(ctx, result.ContractID)
	if err != nil {
		return err
	}
	fmt.Println("committed; audit report", report.ID)
	for _, rec := range report.Recommendations {
		fmt.Println("  -", rec)
	}

	ok, detail := engine.Chain().VerifyIntegrity()
	if !ok {
		return fmt.Errorf("provenance chain verification failed: %s", detail)
	}
	fmt.Printf("provenance chain verified: %d events, head %s\n",
		engine.Chain().Length(), engine.Chain().Proof())
	return nil
}
