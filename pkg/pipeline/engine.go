// Package pipeline composes the admission stages into a single engine:
// submission, validation, mapping, sandbox trial, dual-control contract,
// commit with checkpointing, audit, and rollback. Every stage records its
// outcome on the shared provenance chain; the engine only ever touches the
// real store inside FinalizeContract and RollbackContract.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/gatewright/gatewright/pkg/archive"
	"github.com/gatewright/gatewright/pkg/auditor"
	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/checkpoint"
	"github.com/gatewright/gatewright/pkg/config"
	"github.com/gatewright/gatewright/pkg/contract"
	"github.com/gatewright/gatewright/pkg/mapping"
	"github.com/gatewright/gatewright/pkg/observability"
	"github.com/gatewright/gatewright/pkg/provenance"
	"github.com/gatewright/gatewright/pkg/resilience"
	"github.com/gatewright/gatewright/pkg/sandbox"
	"github.com/gatewright/gatewright/pkg/validation"
)

// Stage names the pipeline stage a cycle reached.
type Stage string

const (
	StageSubmission Stage = "submission"
	StageValidation Stage = "validation"
	StageMapping    Stage = "mapping"
	StageSandbox    Stage = "sandbox"
	StageContract   Stage = "contract"
	StageComplete   Stage = "complete"
)

// CycleResult carries one cycle's outcome with partial progress preserved:
// everything computed before the failing stage stays populated.
type CycleResult struct {
	CandidateID string             `json:"candidate_id"`
	Stage       Stage              `json:"stage"`
	Validation  *validation.Result `json:"validation,omitempty"`
	Updates     []mapping.Update   `json:"updates,omitempty"`
	Impact      map[string]float64 `json:"impact,omitempty"`
	Sandbox     *sandbox.Result    `json:"sandbox,omitempty"`
	ContractID  string             `json:"contract_id,omitempty"`
	Escalated   bool               `json:"escalated"`
	Err         string             `json:"error,omitempty"`
}

// Failed reports whether the cycle stopped before reaching the contract.
func (r *CycleResult) Failed() bool {
	return r.Err != ""
}

// cycleState is the engine's in-flight record of one contract awaiting a
// decision.
type cycleState struct {
	candidate    *candidate.Candidate
	updates      []mapping.Update
	sandboxRes   *sandbox.Result
	contract     *contract.Contract
	checkpointID string
}

// Engine is the governed admission pipeline.
type Engine struct {
	profile     *config.Profile
	chain       *provenance.Chain
	store       *mapping.MemoryStore
	validator   *validation.Validator
	mapper      *mapping.Mapper
	sandbox     *sandbox.Orchestrator
	checkpoints *checkpoint.Manager
	auditor     *auditor.Generator
	archive     *archive.Store
	trust       *resilience.TrustMetric
	limiter     *rate.Limiter
	obs         *observability.Provider
	bus         *Bus
	log         *slog.Logger

	mu         sync.Mutex
	candidates map[string]*candidate.Candidate
	cycles     map[string]*cycleState
}

// NewEngine assembles a pipeline from a governance profile. The archive
// store is optional: a nil store disables persistence but nothing else. The
// observability provider may be nil or disabled.
func NewEngine(profile *config.Profile, archiveStore *archive.Store, obs *observability.Provider, log *slog.Logger) (*Engine, error) {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		var err error
		obs, err = observability.New(context.Background(), nil)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	chain := provenance.NewChain()
	tables := profile.MappingTables()

	// Every configured target starts at the neutral baseline.
	seed := make(map[string]float64)
	for _, targets := range tables.Targets {
		for _, id := range targets {
			seed[id] = 1.0
		}
	}
	store := mapping.NewMemoryStore(seed)

	v, err := validation.NewValidator(profile.ValidationConfig(), chain, log)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	trust, err := resilience.NewTrustMetric(1.0)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Engine{
		profile:     profile,
		chain:       chain,
		store:       store,
		validator:   v,
		mapper:      mapping.NewMapper(store, tables, chain, log),
		sandbox:     sandbox.NewOrchestrator(tables, chain, log),
		checkpoints: checkpoint.NewManager(profile.Checkpoint.Capacity, chain, log),
		auditor:     auditor.NewGenerator(nil, chain, log),
		archive:     archiveStore,
		trust:       trust,
		limiter:     rate.NewLimiter(rate.Limit(profile.RateLimit.PerSecond), profile.RateLimit.Burst),
		obs:         obs,
		bus:         NewBus(log),
		log:         log,
		candidates:  make(map[string]*candidate.Candidate),
		cycles:      make(map[string]*cycleState),
	}, nil
}

// SubmitCandidate registers a new candidate under the submission rate limit.
func (e *Engine) SubmitCandidate(ctx context.Context, req candidate.SubmitRequest) (*candidate.Candidate, error) {
	if !e.limiter.Allow() {
		return nil, fmt.Errorf("pipeline: submission rate limit exceeded")
	}

	cand := candidate.New(req)
	e.mu.Lock()
	e.candidates[cand.ID] = cand
	e.mu.Unlock()

	if _, err := e.chain.Append(provenance.EventCandidateSubmitted, map[string]any{
		"candidate_id": cand.ID,
		"domain":       cand.Domain,
		"workflow_id":  cand.SourceWorkflowID,
	}); err != nil {
		return nil, fmt.Errorf("pipeline: provenance append failed: %w", err)
	}

	e.bus.Publish(TelemetryCandidateSubmitted, map[string]any{
		"candidate_id": cand.ID,
		"domain":       cand.Domain,
	}, e.chain.Proof())
	e.log.Info("candidate submitted", "candidate_id", cand.ID, "domain", cand.Domain)
	return cand, nil
}

// Candidate returns a registered candidate by id.
func (e *Engine) Candidate(id string) (*candidate.Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cand, ok := e.candidates[id]
	return cand, ok
}

// RunCycle drives a submitted candidate through validation, mapping, and the
// sandbox trial, ending with a contract awaiting dual-control approval. A
// cycle stopped by a failing stage returns a result, not an error; errors are
// reserved for unknown candidates and infrastructure faults.
func (e *Engine) RunCycle(ctx context.Context, candidateID string, level candidate.Level) (*CycleResult, error) {
	cand, ok := e.Candidate(candidateID)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown candidate %q", candidateID)
	}

	e.obs.RecordCycle(ctx, attribute.String("domain", cand.Domain))
	result := &CycleResult{CandidateID: cand.ID}

	if err := e.validate(ctx, cand, level, result); err != nil || result.Failed() {
		return e.sealCycle(result), err
	}

	if err := e.mapCandidate(ctx, cand, result); err != nil || result.Failed() {
		return e.sealCycle(result), err
	}

	if e.trialSandbox(ctx, cand, result); result.Failed() {
		return e.sealCycle(result), nil
	}

	e.openContract(ctx, cand, result)
	return e.sealCycle(result), nil
}

func (e *Engine) validate(ctx context.Context, cand *candidate.Candidate, level candidate.Level, result *CycleResult) error {
	_, done := e.obs.TrackStage(ctx, string(StageValidation))
	vres := e.validator.Validate(cand, level)
	result.Validation = vres

	if !vres.Valid {
		result.Stage = StageValidation
		result.Err = fmt.Sprintf("validation failed with %d error(s)", len(vres.Errors))
		rejErr := cand.Transition(candidate.StatusRejected)
		done(fmt.Errorf("%s", result.Err))
		return rejErr
	}
	err := cand.Transition(candidate.StatusValidated)
	done(err)
	return err
}

func (e *Engine) mapCandidate(ctx context.Context, cand *candidate.Candidate, result *CycleResult) error {
	_, done := e.obs.TrackStage(ctx, string(StageMapping))
	defer func() { done(nil) }()

	updates, err := e.mapper.MapCandidate(cand)
	if err != nil {
		result.Stage = StageMapping
		result.Err = err.Error()
		return cand.Transition(candidate.StatusRejected)
	}
	result.Updates = updates
	result.Impact = e.mapper.CrossDomainImpact(cand)
	return nil
}

// trialSandbox runs the isolated trial under bounded retry. The trial itself
// is the fallible unit; side effects are a verdict, not a failure to retry.
func (e *Engine) trialSandbox(ctx context.Context, cand *candidate.Candidate, result *CycleResult) {
	_, done := e.obs.TrackStage(ctx, string(StageSandbox))
	defer func() {
		if result.Failed() {
			done(fmt.Errorf("%s", result.Err))
			return
		}
		done(nil)
	}()

	orch := resilience.NewOrchestrator(resilience.Options{
		MaxRetries:        e.profile.Retry.MaxRetries,
		Delay:             e.profile.Retry.Delay(),
		EscalateOnFailure: e.profile.Retry.EscalateOnFailure,
	}, e.trust, e.chain, e.log)

	exec := orch.Execute(ctx, func(ctx context.Context) (any, error) {
		return e.sandbox.Trial(cand, result.Updates, result.Impact, e.store)
	})
	if exec.State == resilience.StateFailed {
		result.Stage = StageSandbox
		result.Escalated = exec.Escalated
		result.Err = fmt.Sprintf("sandbox trial exhausted retries: %s", exec.Error)
		_ = cand.Transition(candidate.StatusRejected)
		return
	}

	sbx := exec.Value.(*sandbox.Result)
	result.Sandbox = sbx
	if !sbx.Success {
		result.Stage = StageSandbox
		result.Err = fmt.Sprintf("sandbox trial rejected candidate: %d side effect(s)", len(sbx.SideEffects))
		_ = cand.Transition(candidate.StatusRejected)
		return
	}
	_ = cand.Transition(candidate.StatusSandboxed)
}

func (e *Engine) openContract(ctx context.Context, cand *candidate.Candidate, result *CycleResult) {
	_, done := e.obs.TrackStage(ctx, string(StageContract))
	defer func() { done(nil) }()

	ctr := contract.New(cand.ID, e.profile.Approvers, e.chain, e.log)
	ctr.Submit("pipeline")
	ctr.BeginSandbox("pipeline")
	ctr.CompleteSandbox("pipeline", result.Sandbox.Fidelity, len(result.Sandbox.SideEffects))

	e.mu.Lock()
	e.cycles[ctr.ID] = &cycleState{
		candidate:  cand,
		updates:    result.Updates,
		sandboxRes: result.Sandbox,
		contract:   ctr,
	}
	e.mu.Unlock()

	result.ContractID = ctr.ID
	result.Stage = StageComplete
}

func (e *Engine) sealCycle(result *CycleResult) *CycleResult {
	e.bus.Publish(TelemetryCycleCompleted, map[string]any{
		"candidate_id": result.CandidateID,
		"stage":        string(result.Stage),
		"failed":       result.Failed(),
		"contract_id":  result.ContractID,
	}, e.chain.Proof())
	return result
}

// Contract returns an in-flight contract by id.
func (e *Engine) Contract(contractID string) (*contract.Contract, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.cycles[contractID]
	if !ok {
		return nil, false
	}
	return state.contract, true
}

// Approve records one approver's approval on an in-flight contract.
func (e *Engine) Approve(contractID, approverID, reason string) error {
	ctr, ok := e.Contract(contractID)
	if !ok {
		return fmt.Errorf("pipeline: unknown contract %q", contractID)
	}
	return ctr.AddApproval(approverID, contract.DecisionApprove, reason)
}

// Reject records one approver's rejection. A fully-voted rejection also
// rejects the candidate.
func (e *Engine) Reject(contractID, approverID, reason string) error {
	e.mu.Lock()
	state, ok := e.cycles[contractID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: unknown contract %q", contractID)
	}
	if err := state.contract.AddApproval(approverID, contract.DecisionReject, reason); err != nil {
		return err
	}
	if state.contract.Status() == contract.StatusRejected {
		_ = state.candidate.Transition(candidate.StatusRejected)
	}
	return nil
}

// FinalizeContract commits an approved contract: checkpoint the live store,
// apply the mapping, mark the candidate committed, and generate and archive
// the audit report.
func (e *Engine) FinalizeContract(ctx context.Context, contractID string) (*auditor.Report, error) {
	e.mu.Lock()
	state, ok := e.cycles[contractID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown contract %q", contractID)
	}

	if !state.contract.CommitZ2() {
		return nil, fmt.Errorf("pipeline: contract %q is not fully approved", contractID)
	}

	ckpt, err := e.checkpoints.CreateCheckpoint(e.store.Snapshot(), contractID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: checkpoint failed: %w", err)
	}
	state.checkpointID = ckpt.ID

	if err := e.mapper.ApplyMapping(state.updates); err != nil {
		return nil, fmt.Errorf("pipeline: apply failed: %w", err)
	}
	if err := state.candidate.Transition(candidate.StatusCommitted); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	report, err := e.auditor.Generate(state.contract, state.candidate, state.sandboxRes)
	if err != nil {
		return nil, fmt.Errorf("pipeline: audit failed: %w", err)
	}

	if e.archive != nil {
		if err := e.archive.SaveReport(ctx, report); err != nil {
			return nil, fmt.Errorf("pipeline: archive failed: %w", err)
		}
		if err := e.archive.SaveExport(ctx, e.chain.Export()); err != nil {
			return nil, fmt.Errorf("pipeline: archive failed: %w", err)
		}
	}

	e.bus.Publish(TelemetryPropagationCompleted, map[string]any{
		"contract_id":  contractID,
		"candidate_id": state.candidate.ID,
		"updates":      len(state.updates),
		"report_id":    report.ID,
	}, e.chain.Proof())
	e.log.Info("contract finalized",
		"contract_id", contractID, "candidate_id", state.candidate.ID, "report_id", report.ID)
	return report, nil
}

// RollbackContract reverts a committed contract: the live store is restored
// from the pre-commit checkpoint, then the contract transitions to rolled
// back and the candidate follows. A failed restore leaves the contract and
// candidate untouched, so the recorded state never claims a rollback that
// did not happen.
func (e *Engine) RollbackContract(ctx context.Context, contractID, reason, actorID string) error {
	e.mu.Lock()
	state, ok := e.cycles[contractID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline: unknown contract %q", contractID)
	}

	if state.contract.Status() != contract.StatusCommitted {
		return fmt.Errorf("pipeline: contract %q cannot be rolled back from status %s",
			contractID, state.contract.Status())
	}

	// Restore before transitioning: a checkpoint that fails integrity
	// verification aborts the rollback with no state change anywhere.
	restored, err := e.checkpoints.Rollback(state.checkpointID)
	if err != nil {
		return fmt.Errorf("pipeline: checkpoint restore failed: %w", err)
	}
	if !state.contract.Rollback(reason, actorID) {
		return fmt.Errorf("pipeline: contract %q cannot be rolled back from status %s",
			contractID, state.contract.Status())
	}
	e.store.Restore(restored)

	if err := state.candidate.Transition(candidate.StatusRolledBack); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	e.bus.Publish(TelemetryRollbackCompleted, map[string]any{
		"contract_id":  contractID,
		"candidate_id": state.candidate.ID,
		"reason":       reason,
	}, e.chain.Proof())
	e.log.Info("contract rolled back", "contract_id", contractID, "reason", reason)
	return nil
}

// Chain exposes the shared provenance chain.
func (e *Engine) Chain() *provenance.Chain { return e.chain }

// Store exposes the live target store.
func (e *Engine) Store() *mapping.MemoryStore { return e.store }

// Trust exposes the engine's trust metric.
func (e *Engine) Trust() *resilience.TrustMetric { return e.trust }

// Bus exposes the telemetry bus for subscription.
func (e *Engine) Bus() *Bus { return e.bus }

// Profile exposes the active governance profile.
func (e *Engine) Profile() *config.Profile { return e.profile }
