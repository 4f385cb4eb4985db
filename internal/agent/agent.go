// Package agent runs one task through verification, classification, the
// patcher chain and the proposer, and writes an audit event for every
// verification it performs.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/classify"
	"github.com/lucasnoah/repairloop/internal/envfp"
	"github.com/lucasnoah/repairloop/internal/fileutil"
	"github.com/lucasnoah/repairloop/internal/hashing"
	"github.com/lucasnoah/repairloop/internal/patch"
	"github.com/lucasnoah/repairloop/internal/propose"
	"github.com/lucasnoah/repairloop/internal/task"
	"github.com/lucasnoah/repairloop/internal/verify"
)

// shortLen bounds error messages handed to patchers and summaries written
// to events.
const shortLen = 200

// RunResult is the outcome of one Run.
type RunResult struct {
	RunID        string `json:"run_id"`
	Done         bool   `json:"done"`
	AttemptsUsed int    `json:"attempts_used"`
	LastError    string `json:"last_error,omitempty"`
}

// Loop executes tasks. A Loop holds no per-run state and may be reused.
type Loop struct {
	proposer    *propose.Runtime
	fingerprint func(context.Context) envfp.Fingerprint
	now         func() time.Time
	newRunID    func() string
	logger      *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithProposer enables the proposer fallback.
func WithProposer(rt *propose.Runtime) Option {
	return func(l *Loop) { l.proposer = rt }
}

// WithFingerprint replaces the toolchain probe.
func WithFingerprint(fn func(context.Context) envfp.Fingerprint) Option {
	return func(l *Loop) { l.fingerprint = fn }
}

// WithClock overrides event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		fingerprint: func(ctx context.Context) envfp.Fingerprint { return envfp.Capture(ctx, envfp.Prober{}) },
		now:         time.Now,
		newRunID:    func() string { return uuid.New().String() },
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// run is the state shared by every event of one Run.
type run struct {
	id          string
	task        task.Task
	verifier    verify.Verifier
	sink        audit.Sink
	payload     verify.Payload
	lossy       bool
	config      verify.Config
	fingerprint envfp.Fingerprint
	taskHash    string
}

// step is one verification and how its candidate came to be.
type step struct {
	attempt   int
	code      string
	result    verify.Result
	elapsed   time.Duration
	parent    string
	attempted bool
	patch     *patch.Result
	applied   bool
	delta     *audit.Delta
	proposal  *propose.Execution
	failure   classify.Failure
}

// Run tries each attempt in order until one verifies. Verification failures
// are reported in the result; the returned error is reserved for failures to
// write the target file or the audit log.
func (l *Loop) Run(ctx context.Context, t task.Task, v verify.Verifier, sink audit.Sink) (RunResult, error) {
	r := &run{id: l.newRunID(), task: t, verifier: v, sink: sink}
	r.payload, r.lossy = v.TaskPayloadSnapshot()
	r.config = v.ReplayConfig()
	r.fingerprint = l.fingerprint(ctx)
	taskHash, err := hashing.Stable(map[string]any{
		"prompt":           t.Prompt,
		"task_payload":     r.payload,
		"payload_is_lossy": r.lossy,
		"verifier_config":  r.config,
		"env_fingerprint":  r.fingerprint,
	})
	if err != nil {
		return RunResult{RunID: r.id}, fmt.Errorf("task hash: %w", err)
	}
	r.taskHash = taskHash

	log := l.logger.With(zap.String("run_id", r.id), zap.String("task_id", t.ID), zap.String("language", t.Language))
	log.Info("run started", zap.Int("attempts", len(t.Attempts)))

	lastError := ""
	for i, code := range t.Attempts {
		attempt := i + 1
		if err := ctx.Err(); err != nil {
			return RunResult{RunID: r.id, AttemptsUsed: i, LastError: lastError}, err
		}

		original, err := l.verify(ctx, r, attempt, code)
		if err != nil {
			return RunResult{RunID: r.id, AttemptsUsed: attempt, LastError: lastError}, err
		}
		if !original.result.Passed {
			original.attempted = true
			original.patch = patch.ApplyFirst(patch.Context{
				TaskID:         t.ID,
				Prompt:         t.Prompt,
				Code:           code,
				FailureType:    string(original.failure.Type),
				ErrorSignature: original.failure.Signature,
				ErrorMessage:   classify.Short(firstNonEmpty(original.result.ErrorMessage, original.result.Error), shortLen),
				TaskPayload:    r.payload,
				Language:       t.Language,
			})
		}
		if err := l.emit(ctx, r, original); err != nil {
			return RunResult{RunID: r.id, AttemptsUsed: attempt, LastError: lastError}, err
		}
		log.Info("attempt verified", stepFields(original)...)
		if original.result.Passed {
			return l.finish(log, r, attempt), nil
		}
		lastError = original.result.Error

		base := original
		if original.patch != nil {
			patched, err := l.verify(ctx, r, attempt, original.patch.PatchedCode)
			if err != nil {
				return RunResult{RunID: r.id, AttemptsUsed: attempt, LastError: lastError}, err
			}
			delta := audit.ComputeDelta(code, patched.code)
			patched.parent = hashing.Text(code)
			patched.attempted = true
			patched.patch = original.patch
			patched.applied = true
			patched.delta = &delta
			if err := l.emit(ctx, r, patched); err != nil {
				return RunResult{RunID: r.id, AttemptsUsed: attempt, LastError: lastError}, err
			}
			log.Info("patch verified", stepFields(patched)...)
			if patched.result.Passed {
				return l.finish(log, r, attempt), nil
			}
			lastError = patched.result.Error
			base = patched
		}

		if l.proposer == nil {
			continue
		}
		proposed, ok, err := l.propose(ctx, r, base)
		if err != nil {
			return RunResult{RunID: r.id, AttemptsUsed: attempt, LastError: lastError}, err
		}
		if !ok {
			continue
		}
		log.Info("proposal verified", stepFields(proposed)...)
		if proposed.result.Passed {
			return l.finish(log, r, attempt), nil
		}
		lastError = proposed.result.Error
	}

	log.Info("run exhausted", zap.String("last_error", classify.Short(lastError, shortLen)))
	return RunResult{RunID: r.id, Done: false, AttemptsUsed: len(t.Attempts), LastError: lastError}, nil
}

func (l *Loop) finish(log *zap.Logger, r *run, attempt int) RunResult {
	log.Info("run passed", zap.Int("attempts_used", attempt))
	return RunResult{RunID: r.id, Done: true, AttemptsUsed: attempt}
}

// propose asks the runtime for a replacement of base and verifies it. ok is
// false when nothing was proposed; no event is written then.
func (l *Loop) propose(ctx context.Context, r *run, base step) (step, bool, error) {
	signature, _ := r.payload["signature"].(string)
	functionName, _ := r.payload["function_name"].(string)
	exec := l.proposer.Propose(ctx, propose.Context{
		Language:       r.task.Language,
		TaskID:         r.task.ID,
		Prompt:         r.task.Prompt,
		Signature:      signature,
		FunctionName:   functionName,
		Code:           base.code,
		FailureType:    string(base.failure.Type),
		ErrorSignature: base.failure.Signature,
		ErrorMessage:   classify.Short(firstNonEmpty(base.result.ErrorMessage, base.result.Error), shortLen),
		StageFailed:    base.result.StageFailed,
		TaskPayload:    r.payload,
		PayloadIsLossy: r.lossy,
	})
	if !exec.Used {
		return step{}, false, nil
	}

	proposed, err := l.verify(ctx, r, base.attempt, exec.Code)
	if err != nil {
		return step{}, false, err
	}
	delta := audit.ComputeDelta(base.code, exec.Code)
	proposed.parent = hashing.Text(base.code)
	proposed.delta = &delta
	proposed.proposal = &exec
	if err := l.emit(ctx, r, proposed); err != nil {
		return step{}, false, err
	}
	return proposed, true, nil
}

// verify writes code to the target file and runs the verifier on it.
func (l *Loop) verify(ctx context.Context, r *run, attempt int, code string) (step, error) {
	started := time.Now()
	if err := writeTarget(r.task.TargetFile, code); err != nil {
		return step{}, err
	}
	result := r.verifier.Verify(ctx, r.task.TargetFile)
	s := step{attempt: attempt, code: code, result: result, elapsed: time.Since(started)}
	s.failure = classify.Classify(classify.Input{
		Passed:       result.Passed,
		ErrorType:    result.ErrorType,
		ErrorMessage: result.ErrorMessage,
		Error:        result.Error,
		Stage:        result.StageFailed,
	}, r.task.Language)
	return s, nil
}

func writeTarget(path, code string) error {
	if err := fileutil.WriteFile(path, []byte(code)); err != nil {
		return fmt.Errorf("write target file: %w", err)
	}
	return nil
}

func (l *Loop) emit(ctx context.Context, r *run, s step) error {
	if err := r.sink.Log(ctx, l.event(r, s)); err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

func (l *Loop) event(r *run, s step) *audit.Event {
	res := s.result
	ev := &audit.Event{
		SchemaVersion:       audit.SchemaVersion,
		RunID:               r.id,
		TimestampUTC:        l.now().UTC().Format(time.RFC3339Nano),
		AttemptIndex:        s.attempt,
		TaskID:              r.task.ID,
		Language:            r.task.Language,
		TaskPrompt:          r.task.Prompt,
		TaskHash:            r.taskHash,
		TaskPayload:         r.payload,
		PayloadIsLossy:      r.lossy,
		EnvFingerprint:      r.fingerprint,
		VerifierName:        r.verifier.Name(),
		VerifierVersion:     r.verifier.Version(),
		VerifierConfig:      r.config,
		VerifierStageFailed: audit.Str(res.StageFailed),
		ArtifactHash:        hashing.Text(s.code),
		ParentArtifactHash:  audit.Str(s.parent),
		TargetFile:          r.task.TargetFile,
		Code:                s.code,
		Passed:              res.Passed,
		FailureType:         audit.Str(string(s.failure.Type)),
		ErrorSignature:      audit.Str(s.failure.Signature),
		ErrorType:           audit.Str(res.ErrorType),
		ErrorMessage:        audit.Str(res.ErrorMessage),
		Error:               audit.Str(res.Error),
		PatcherAttempted:    s.attempted,
		PatchApplied:        s.applied,
		ChangedLineNumbers:  []int{},
		ElapsedMs:           s.elapsed.Milliseconds(),
	}
	if ev.TaskPayload == nil {
		ev.TaskPayload = map[string]any{}
	}
	if ev.VerifierConfig == nil {
		ev.VerifierConfig = map[string]any{}
	}
	if s.patch != nil {
		ev.PatcherID = audit.Str(s.patch.PatcherID)
		ev.PatchSummary = audit.Str(classify.Short(s.patch.Summary, shortLen))
	}
	if s.delta != nil {
		ev.ChangedLinesCount = s.delta.ChangedLinesCount
		ev.ChangedLineNumbers = s.delta.ChangedLineNumbers
		ev.DeltaSummary = audit.Str(classify.Short(s.delta.Summary, shortLen))
	}
	if p := s.proposal; p != nil {
		latency := p.LatencyMs
		ev.ProposerUsed = p.Used
		ev.ProposerID = audit.Str(p.ProposerID)
		ev.ProposalHash = audit.Str(p.ProposalHash)
		ev.ProposerLatencyMs = &latency
		ev.ProposerBudgetSpent = &audit.BudgetSpent{
			CallsDay:   p.Budget.CallsDay,
			SecondsDay: p.Budget.SecondsDay,
			CallsTask:  p.Budget.CallsTask,
		}
		ev.ProposerInputHash = audit.Str(p.InputHash)
	}
	return ev
}

func stepFields(s step) []zap.Field {
	fields := []zap.Field{
		zap.Int("attempt", s.attempt),
		zap.Bool("passed", s.result.Passed),
		zap.Int64("elapsed_ms", s.elapsed.Milliseconds()),
	}
	if !s.result.Passed {
		fields = append(fields,
			zap.String("stage", s.result.StageFailed),
			zap.String("failure_type", string(s.failure.Type)),
			zap.String("error_signature", s.failure.Signature),
		)
	}
	if s.patch != nil {
		fields = append(fields, zap.String("patcher_id", s.patch.PatcherID), zap.Bool("patch_applied", s.applied))
	}
	return fields
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
