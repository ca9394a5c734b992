package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	fotel "github.com/forgeline/forgeline/internal/adapter/otel"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/domain"
	"github.com/forgeline/forgeline/internal/domain/change"
	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/forgeplan"
	"github.com/forgeline/forgeline/internal/domain/outcome"
	"github.com/forgeline/forgeline/internal/domain/pathpolicy"
	"github.com/forgeline/forgeline/internal/domain/patch"
	"github.com/forgeline/forgeline/internal/domain/risk"
	"github.com/forgeline/forgeline/internal/logger"
	"github.com/forgeline/forgeline/internal/port/database"
	"github.com/forgeline/forgeline/internal/port/llm"
	"github.com/forgeline/forgeline/internal/subproc"
	"github.com/forgeline/forgeline/internal/workspace"
)

// Phase is one state of the forge pipeline. Transitions form a loop, not
// recursion, so the correction budget stays auditable.
type Phase string

const (
	PhasePlanning       Phase = "planning"
	PhaseContextLoading Phase = "context_loading"
	PhaseImplementation Phase = "implementation"
	PhaseValidation     Phase = "validation"
	PhaseCorrection     Phase = "correction"
	PhaseTesting        Phase = "testing"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// ForgeParams bundles the forge service's collaborators.
type ForgeParams struct {
	Client    llm.Client
	Loader    *ContextLoader
	Workspace *workspace.Manager
	Runner    *subproc.Runner
	Store     database.Store
	Approvals *ApprovalService
	Events    *EventRecorder
	Metrics   *fotel.Metrics

	Forge           config.Forge
	WorkspaceCfg    config.Workspace
	PlanningTokens  int
	MaxOutputTokens int
}

// ForgeService executes code-change delegations through the phase machine.
// Implements AgentExecutor.
type ForgeService struct {
	p ForgeParams
}

// NewForgeService creates the forge agent executor.
func NewForgeService(p ForgeParams) *ForgeService {
	return &ForgeService{p: p}
}

func (s *ForgeService) Agent() delegation.Agent { return delegation.AgentForge }

// forgeRun is the mutable state threaded through one delegation's phases.
type forgeRun struct {
	d       delegation.Delegation
	traceID string
	log     *slog.Logger

	plan         *forgeplan.Plan
	contextBlock string
	pending      []change.FileChange
	lastErrors   string
	round        int
	replanned    bool
	installed    bool
	tokens       int

	cc        *change.CodeChange
	branch    string
	snapshots []*workspace.Snapshot
	touched   map[string]bool
	offPolicy bool

	testOutput string
	partial    bool
	failure    string
}

// Execute runs one forge delegation to Done or Failed. A returned error
// means infrastructure gave out (LLM unreachable mid-pipeline); domain
// failures come back as a failed ExecutionOutput with the workspace already
// rolled back.
func (s *ForgeService) Execute(ctx context.Context, d delegation.Delegation, traceID string) (*ExecutionOutput, error) {
	run := &forgeRun{
		d:       d,
		traceID: traceID,
		log:     logger.WithTrace(slog.Default(), traceID).With("agent", d.Agent),
		touched: map[string]bool{},
	}

	phase := PhasePlanning
	for phase != PhaseDone && phase != PhaseFailed {
		phaseCtx, span := fotel.StartPhaseSpan(ctx, string(phase))
		next, err := s.step(phaseCtx, run, phase)
		span.End()
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				s.abandon(ctx, run, "llm unavailable: "+err.Error())
				return nil, err
			}
			run.failure = err.Error()
			next = PhaseFailed
		}
		phase = next
	}

	if phase == PhaseFailed {
		return s.finishFailed(ctx, run), nil
	}
	return s.finishDone(ctx, run)
}

// step dispatches one phase and returns the next.
func (s *ForgeService) step(ctx context.Context, run *forgeRun, phase Phase) (Phase, error) {
	s.emit(ctx, run, phase, "phase started", outcome.LevelInfo)
	switch phase {
	case PhasePlanning:
		return s.phasePlanning(ctx, run)
	case PhaseContextLoading:
		return s.phaseContextLoading(run)
	case PhaseImplementation:
		return s.phaseImplementation(ctx, run)
	case PhaseValidation:
		return s.phaseValidation(ctx, run)
	case PhaseCorrection:
		return s.phaseCorrection(ctx, run)
	case PhaseTesting:
		return s.phaseTesting(ctx, run)
	default:
		return PhaseFailed, fmt.Errorf("unknown phase %q", phase)
	}
}

// phasePlanning produces a ForgePlan under its own token cap. Failure is
// soft: the pipeline proceeds planless.
func (s *ForgeService) phasePlanning(ctx context.Context, run *forgeRun) (Phase, error) {
	prompt := run.d.Task
	if run.lastErrors != "" {
		prompt += "\n\nA previous attempt failed with:\n" + run.lastErrors
	}

	resp, err := s.p.Client.Complete(ctx, llm.Request{
		System:          planningSystem,
		UserMessage:     prompt,
		MaxOutputTokens: s.p.PlanningTokens,
	})
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			return PhaseFailed, err
		}
		run.log.Warn("planning call failed, continuing without a plan", "error", err)
		return PhaseContextLoading, nil
	}
	run.tokens += resp.Usage.TotalTokens

	plan, err := forgeplan.Parse(resp.Text)
	if err != nil {
		run.log.Warn("plan output unusable, continuing without a plan", "error", err)
		return PhaseContextLoading, nil
	}
	run.plan = plan
	return PhaseContextLoading, nil
}

// phaseContextLoading never fails, only degrades.
func (s *ForgeService) phaseContextLoading(run *forgeRun) (Phase, error) {
	run.contextBlock = s.p.Loader.Load(run.plan, run.d.Task)
	if run.contextBlock == "" {
		run.log.Warn("context loading produced nothing, proceeding bare")
	}
	return PhaseImplementation, nil
}

// phaseImplementation asks for the FileChange set and applies it.
func (s *ForgeService) phaseImplementation(ctx context.Context, run *forgeRun) (Phase, error) {
	resp, err := s.p.Client.Complete(ctx, llm.Request{
		System:          implementationSystem,
		UserMessage:     implementationPrompt(run),
		MaxOutputTokens: s.p.MaxOutputTokens,
	})
	if err != nil {
		return PhaseFailed, err
	}
	run.tokens += resp.Usage.TotalTokens

	files, err := change.ParseFileChanges(resp.Text)
	if err != nil {
		run.lastErrors = "implementation output was not a valid file change set: " + err.Error()
		return PhaseCorrection, nil
	}
	if len(files) == 0 {
		// "No changes needed" is a legitimate answer.
		run.log.Info("implementation produced no changes")
		return PhaseDone, nil
	}
	run.pending = files

	if next, err := s.applyPending(ctx, run); err != nil || next != "" {
		return next, err
	}
	return PhaseValidation, nil
}

// applyPending validates paths, ensures the branch exists, snapshots and
// writes the pending batch. Returns a non-empty phase to redirect (patch
// failure feeds correction), or "" to continue.
func (s *ForgeService) applyPending(ctx context.Context, run *forgeRun) (Phase, error) {
	paths := make([]string, len(run.pending))
	for i, fc := range run.pending {
		paths[i] = fc.Path
	}
	offPolicy, err := pathpolicy.ValidateAll(paths, s.p.WorkspaceCfg.AllowedDirs)
	if err != nil {
		return PhaseFailed, err
	}
	run.offPolicy = run.offPolicy || offPolicy

	if run.cc == nil {
		run.cc = change.New(run.d.GoalID, run.d.Task)
		run.cc.Risk = run.d.Metrics.Risk
		if err := s.p.Store.CreateChange(ctx, run.cc); err != nil {
			return PhaseFailed, fmt.Errorf("persist change: %w", err)
		}
		if err := s.p.Store.UpdateChangeStatus(ctx, run.cc.ID, change.StatusApplying, ""); err != nil {
			return PhaseFailed, fmt.Errorf("mark change applying: %w", err)
		}
		run.cc.Status = change.StatusApplying

		// Branch creation failure aborts before any write, no rollback needed.
		branch, err := s.p.Workspace.StartBranch(ctx, run.cc.ShortID())
		if err != nil {
			return PhaseFailed, fmt.Errorf("create branch: %w", err)
		}
		run.branch = branch
		run.cc.Branch = branch
	}

	snap, err := s.p.Workspace.Snapshot(paths)
	if err != nil {
		return PhaseFailed, fmt.Errorf("snapshot: %w", err)
	}
	run.snapshots = append(run.snapshots, snap)

	if err := s.writeBatch(run); err != nil {
		var matchErr *patch.MatchError
		if errors.As(err, &matchErr) {
			// Fatal to the batch: roll back everything this batch touched.
			if restoreErr := s.p.Workspace.Restore(snap); restoreErr != nil {
				return PhaseFailed, fmt.Errorf("rollback after patch failure: %w", restoreErr)
			}
			run.snapshots = run.snapshots[:len(run.snapshots)-1]
			run.lastErrors = err.Error()
			s.emit(ctx, run, PhaseImplementation, "patch failed: "+matchErr.Error(), outcome.LevelWarn)
			return PhaseCorrection, nil
		}
		return PhaseFailed, err
	}

	for _, p := range paths {
		run.touched[p] = true
	}
	run.pending = nil
	return "", nil
}

// writeBatch applies the pending FileChanges in order. The first failure
// aborts the batch.
func (s *ForgeService) writeBatch(run *forgeRun) error {
	for _, fc := range run.pending {
		switch fc.Action {
		case change.ActionCreate:
			if err := s.p.Workspace.WriteFile(fc.Path, fc.Content); err != nil {
				return err
			}
		case change.ActionModify:
			content, err := s.p.Workspace.ReadFile(fc.Path)
			if err != nil {
				return &patch.MatchError{Path: fc.Path, Search: "(file missing: " + err.Error() + ")"}
			}
			patched, err := patch.ApplyEdits(fc.Path, content, fc.Edits)
			if err != nil {
				return err
			}
			if err := s.p.Workspace.WriteFile(fc.Path, patched); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown action %q for %s", fc.Action, fc.Path)
		}
	}
	return nil
}

// phaseValidation installs dependencies when enabled, then runs auto-fix,
// linter and type-checker.
func (s *ForgeService) phaseValidation(ctx context.Context, run *forgeRun) (Phase, error) {
	root := s.p.Workspace.Root()
	timeout := s.p.Forge.ValidateTimeout

	// The installer runs at most once per delegation; correction rounds
	// re-enter validation with the dependencies already in place.
	if s.p.Forge.InstallDeps && !run.installed {
		cmd := s.p.Forge.InstallCommand
		if cmd == "" {
			cmd = subproc.InstallCommand(root)
		}
		res, err := s.p.Runner.Run(ctx, root, cmd, timeout)
		if err != nil {
			if errors.Is(err, domain.ErrTimeout) {
				return PhaseFailed, fmt.Errorf("dependency install: %s", timeoutMessage(cmd, res))
			}
			output := ""
			if res != nil {
				output = res.Output
			}
			return PhaseFailed, fmt.Errorf("dependency install %q failed:\n%s", cmd, output)
		}
		run.installed = true
	}

	// Auto-fix is best effort; its failures fall through to the linter.
	if s.p.Forge.AutofixCommand != "" {
		if _, err := s.p.Runner.Run(ctx, root, s.p.Forge.AutofixCommand, timeout); err != nil {
			run.log.Debug("autofix failed", "error", err)
		}
	}

	var problems []string
	for _, cmd := range []string{s.p.Forge.LintCommand, s.p.Forge.TypecheckCommand} {
		if cmd == "" {
			continue
		}
		res, err := s.p.Runner.Run(ctx, root, cmd, timeout)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrTimeout) {
			problems = append(problems, timeoutMessage(cmd, res))
			continue
		}
		output := ""
		if res != nil {
			output = res.Output
		}
		problems = append(problems, fmt.Sprintf("%s failed:\n%s", cmd, output))
	}

	if len(problems) > 0 {
		run.lastErrors = strings.Join(problems, "\n\n")
		s.emit(ctx, run, PhaseValidation, "validation failed", outcome.LevelWarn)
		return PhaseCorrection, nil
	}

	if s.p.Forge.TestingEnabled && s.p.Forge.TestCommand != "" {
		return PhaseTesting, nil
	}
	return PhaseDone, nil
}

// phaseCorrection spends one bounded round feeding errors back to the model.
// A round that wants files outside the loaded context triggers one full
// replan instead of a blind retry.
func (s *ForgeService) phaseCorrection(ctx context.Context, run *forgeRun) (Phase, error) {
	run.round++
	if run.round > s.p.Forge.MaxCorrectionRounds {
		return PhaseFailed, fmt.Errorf("%w after %d correction rounds: %s",
			domain.ErrValidationFailed, s.p.Forge.MaxCorrectionRounds, firstLine(run.lastErrors))
	}

	resp, err := s.p.Client.Complete(ctx, llm.Request{
		System:          implementationSystem,
		UserMessage:     correctionPrompt(run, s.currentFileState(run)),
		MaxOutputTokens: s.p.MaxOutputTokens,
	})
	if err != nil {
		return PhaseFailed, err
	}
	run.tokens += resp.Usage.TotalTokens

	files, err := change.ParseFileChanges(resp.Text)
	if err != nil {
		run.lastErrors = "correction output was not a valid file change set: " + err.Error()
		return PhaseCorrection, nil
	}
	if len(files) == 0 {
		// The model considers the current state fine; let validation decide.
		return PhaseValidation, nil
	}

	if !run.replanned && s.wantsUnknownFiles(run, files) {
		run.replanned = true
		run.plan = nil
		run.log.Info("correction requested out-of-context files, replanning once")
		s.emit(ctx, run, PhaseCorrection, "replanning with failure context", outcome.LevelWarn)
		return PhasePlanning, nil
	}

	run.pending = files
	if next, err := s.applyPending(ctx, run); err != nil || next != "" {
		return next, err
	}
	return PhaseValidation, nil
}

// phaseTesting runs the test suite in the same branch. Failures downgrade
// the result to partial success rather than aborting.
func (s *ForgeService) phaseTesting(ctx context.Context, run *forgeRun) (Phase, error) {
	res, err := s.p.Runner.Run(ctx, s.p.Workspace.Root(), s.p.Forge.TestCommand, s.p.Forge.ValidateTimeout)
	if res != nil {
		run.testOutput = res.Output
	}
	if err != nil {
		run.partial = true
		msg := "tests failed"
		if errors.Is(err, domain.ErrTimeout) {
			msg = timeoutMessage(s.p.Forge.TestCommand, res)
			run.testOutput = msg + "\n" + run.testOutput
		}
		s.emit(ctx, run, PhaseTesting, msg, outcome.LevelWarn)
	}
	return PhaseDone, nil
}

// wantsUnknownFiles reports whether a correction batch modifies files that
// were neither loaded as context nor touched before.
func (s *ForgeService) wantsUnknownFiles(run *forgeRun, files []change.FileChange) bool {
	for _, fc := range files {
		if fc.Action != change.ActionModify {
			continue
		}
		if run.touched[fc.Path] {
			continue
		}
		if strings.Contains(run.contextBlock, "=== "+fc.Path+" ===") {
			continue
		}
		return true
	}
	return false
}

// currentFileState re-reads every touched file for the correction prompt.
func (s *ForgeService) currentFileState(run *forgeRun) string {
	var b strings.Builder
	for p := range run.touched {
		content, err := s.p.Workspace.ReadFile(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", p, content)
	}
	return b.String()
}

// finishDone commits the branch and routes the result through the risk gate.
func (s *ForgeService) finishDone(ctx context.Context, run *forgeRun) (*ExecutionOutput, error) {
	if s.p.Metrics != nil {
		s.p.Metrics.CorrectionRounds.Record(ctx, int64(run.round))
	}

	status := outcome.StatusSuccess
	if run.partial {
		status = outcome.StatusPartialSuccess
	}

	// Nothing was written: no commit, no change record to finalize.
	if run.cc == nil {
		return &ExecutionOutput{Status: status, Output: "no changes needed", TokensUsed: run.tokens}, nil
	}

	files := make([]string, 0, len(run.touched))
	for p := range run.touched {
		files = append(files, p)
	}

	diff, err := s.p.Workspace.FinishBranch(ctx, run.branch, fmt.Sprintf("forge: %s [%s]", firstLine(run.cc.Description), run.cc.ShortID()))
	if err != nil {
		run.failure = fmt.Sprintf("commit failed: %v", err)
		return s.finishFailed(ctx, run), nil
	}
	run.cc.Diff = diff
	run.cc.FilesChanged = files

	agentRisk := run.d.Metrics.Risk
	if run.plan != nil && run.plan.EstimatedRisk > agentRisk {
		agentRisk = run.plan.EstimatedRisk
	}
	score := risk.Compute(pendingAsChanges(files, run), agentRisk, run.offPolicy)
	run.cc.Risk = score.Effective
	run.cc.TestOutput = run.testOutput

	if score.NeedsApproval() {
		// The committed branch must survive until the human decides.
		if err := s.p.Store.SetChangeArtifacts(ctx, run.cc.ID, diff, run.branch, files, score.Effective, run.testOutput); err != nil {
			run.log.Error("persist change artifacts failed", "change_id", run.cc.ID, "error", err)
		}
		if err := s.p.Approvals.RequestApproval(ctx, run.cc, score); err != nil {
			run.log.Error("approval routing failed", "change_id", run.cc.ID, "error", err)
		}
		if s.p.Metrics != nil {
			s.p.Metrics.ChangesPending.Add(ctx, 1)
		}
		s.emit(ctx, run, PhaseDone, fmt.Sprintf("change %s awaiting approval (risk %d)", run.cc.ShortID(), score.Effective), outcome.LevelInfo)
	} else {
		if err := s.p.Store.MarkChangeApplied(ctx, run.cc.ID, diff, run.branch, files, score.Effective, run.testOutput); err != nil {
			run.log.Error("mark applied failed", "change_id", run.cc.ID, "error", err)
		}
		if s.p.Metrics != nil {
			s.p.Metrics.ChangesApplied.Add(ctx, 1)
		}
		s.emit(ctx, run, PhaseDone, fmt.Sprintf("change %s applied on %s", run.cc.ShortID(), run.branch), outcome.LevelInfo)
	}

	return &ExecutionOutput{
		Status:        status,
		Output:        fmt.Sprintf("change %s on branch %s (%d files)", run.cc.ShortID(), run.branch, len(files)),
		TokensUsed:    run.tokens,
		ArtifactBytes: int64(len(diff)),
	}, nil
}

// finishFailed restores the workspace and records the failure.
func (s *ForgeService) finishFailed(ctx context.Context, run *forgeRun) *ExecutionOutput {
	s.abandon(ctx, run, run.failure)
	if s.p.Metrics != nil {
		s.p.Metrics.ChangesFailed.Add(ctx, 1)
	}
	return &ExecutionOutput{
		Status:     outcome.StatusFailed,
		Output:     "",
		TokensUsed: run.tokens,
	}
}

// abandon rolls back snapshots in reverse, deletes the branch, and marks the
// change failed. Safe to call when nothing was started.
func (s *ForgeService) abandon(ctx context.Context, run *forgeRun, reason string) {
	for i := len(run.snapshots) - 1; i >= 0; i-- {
		if err := s.p.Workspace.Restore(run.snapshots[i]); err != nil {
			run.log.Error("snapshot restore failed", "error", err)
		}
	}
	if run.branch != "" {
		if err := s.p.Workspace.AbortBranch(ctx, run.branch); err != nil {
			run.log.Error("branch cleanup failed", "branch", run.branch, "error", err)
		}
	}
	if run.cc != nil {
		if err := s.p.Store.UpdateChangeStatus(ctx, run.cc.ID, change.StatusFailed, truncateErr(reason)); err != nil {
			run.log.Error("mark change failed errored", "change_id", run.cc.ID, "error", err)
		}
	}
	if reason != "" {
		s.emit(ctx, run, PhaseFailed, reason, outcome.LevelError)
	}
}

func (s *ForgeService) emit(ctx context.Context, run *forgeRun, phase Phase, msg string, level outcome.Level) {
	if s.p.Events == nil {
		return
	}
	s.p.Events.Emit(ctx, run.traceID, string(run.d.Agent), "forge.phase", string(phase), msg, level)
}

// pendingAsChanges reconstructs a minimal FileChange view of the touched
// set for risk scoring: files that existed before any write count as
// modifications, the rest as creations.
func pendingAsChanges(files []string, run *forgeRun) []change.FileChange {
	created := map[string]bool{}
	for _, snap := range run.snapshots {
		for _, p := range snap.CreatedPaths() {
			created[p] = true
		}
	}

	out := make([]change.FileChange, 0, len(files))
	for _, p := range files {
		action := change.ActionModify
		if created[p] {
			action = change.ActionCreate
		}
		out = append(out, change.FileChange{Path: p, Action: action})
	}
	return out
}

func timeoutMessage(cmd string, res *subproc.Result) string {
	dur := ""
	if res != nil {
		dur = " after " + res.Duration.Round(time.Millisecond).String()
	}
	return fmt.Sprintf("%q timed out%s (exit 143); the workspace tooling did not finish in time", cmd, dur)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func truncateErr(s string) string {
	const max = 2000
	if len(s) > max {
		return s[:max]
	}
	return s
}
