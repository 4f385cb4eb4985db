package propose

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/repairloop/internal/hashing"
)

// Execution is the outcome of one Propose call. Admitted is true whenever
// the proposer was actually invoked; LatencyMs, Budget and InputHash are
// set exactly then. Used is true only when code came back.
type Execution struct {
	Admitted     bool
	Used         bool
	ProposerID   string
	ProposalHash string
	Code         string
	Summary      string
	LatencyMs    int64
	Budget       Usage
	InputHash    string
}

// Runtime admits proposer calls and keeps the spend ledger. Propose is not
// meant to be called concurrently for the same task.
type Runtime struct {
	policy    Policy
	proposer  Proposer
	uncovered SignatureSet
	store     BudgetStore
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithBudgetStore replaces the in-memory budget.
func WithBudgetStore(s BudgetStore) Option {
	return func(r *Runtime) { r.store = s }
}

// WithUncovered sets the signatures proposals are restricted to.
func WithUncovered(s SignatureSet) Option {
	return func(r *Runtime) { r.uncovered = s }
}

// WithClock overrides the wall clock used for the day key.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime creates a runtime. proposer may be nil, in which case nothing
// is ever admitted.
func NewRuntime(policy Policy, proposer Proposer, opts ...Option) *Runtime {
	r := &Runtime{
		policy:    policy,
		proposer:  proposer,
		uncovered: SignatureSet{},
		store:     NewBudgetState(),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the admission policy.
func (r *Runtime) Policy() Policy { return r.policy }

// DayKey is the UTC day the budget is currently counted against.
func (r *Runtime) DayKey() string {
	return r.now().UTC().Format("20060102")
}

// Propose invokes the proposer once if the policy and budget admit it. It
// never retries and never returns an error; refusals and failures come back
// as an Execution with Used false.
func (r *Runtime) Propose(ctx context.Context, pc Context) Execution {
	day := r.DayKey()
	prior, ok := r.admit(ctx, day, pc)
	if !ok {
		return Execution{}
	}

	inputHash, err := hashing.Stable(pc.Map())
	if err != nil {
		r.logger.Warn("proposal input not hashable", zap.String("task_id", pc.TaskID), zap.Error(err))
		return Execution{}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	started := time.Now()
	res, callErr := r.invoke(callCtx, pc)
	elapsed := time.Since(started)
	cancel()

	usage, err := r.store.Record(ctx, day, pc.TaskID, elapsed.Seconds())
	if err != nil {
		r.logger.Warn("proposer budget not recorded", zap.String("task_id", pc.TaskID), zap.Error(err))
		usage = Usage{
			CallsDay:   prior.CallsDay + 1,
			SecondsDay: prior.SecondsDay + elapsed.Seconds(),
			CallsTask:  prior.CallsTask + 1,
		}
	}

	exec := Execution{
		Admitted:  true,
		LatencyMs: elapsed.Milliseconds(),
		Budget:    usage.Snapshot(),
		InputHash: inputHash,
	}
	fields := []zap.Field{
		zap.String("task_id", pc.TaskID),
		zap.String("proposer", r.proposer.ID()),
		zap.Int64("latency_ms", exec.LatencyMs),
		zap.Int("calls_day", usage.CallsDay),
		zap.Int("calls_task", usage.CallsTask),
	}
	if callErr != nil {
		r.logger.Info("proposer returned no code", append(fields, zap.Error(callErr))...)
		return exec
	}
	if res == nil || res.ProposedCode == "" {
		r.logger.Info("proposer returned no code", fields...)
		return exec
	}

	exec.Used = true
	exec.ProposerID = res.ProposerID
	exec.ProposalHash = res.ProposalHash
	exec.Code = res.ProposedCode
	exec.Summary = res.Summary
	r.logger.Info("proposal received", append(fields, zap.String("proposal_hash", res.ProposalHash))...)
	return exec
}

// invoke shields the runtime from a panicking proposer.
func (r *Runtime) invoke(ctx context.Context, pc Context) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, panicError{rec}
		}
	}()
	return r.proposer.Propose(ctx, pc)
}

// admit applies the admission checks in their fixed order.
func (r *Runtime) admit(ctx context.Context, day string, pc Context) (Usage, bool) {
	refuse := func(reason string) (Usage, bool) {
		r.logger.Debug("proposal refused", zap.String("task_id", pc.TaskID), zap.String("reason", reason))
		return Usage{}, false
	}
	if !r.policy.Enabled {
		return refuse("disabled")
	}
	if r.proposer == nil {
		return refuse("no proposer configured")
	}
	if !r.policy.allows(pc.Language) {
		return refuse("language not allowed")
	}
	usage, err := r.store.Usage(ctx, day, pc.TaskID)
	if err != nil {
		r.logger.Warn("proposer budget unavailable", zap.Error(err))
		return refuse("budget store unavailable")
	}
	if usage.CallsDay >= r.policy.MaxCallsPerDay {
		return refuse("daily call budget exhausted")
	}
	if usage.CallsTask >= r.policy.MaxCallsPerTask {
		return refuse("task call budget exhausted")
	}
	if usage.SecondsDay >= r.policy.MaxTotalSecondsPerDay {
		return refuse("daily time budget exhausted")
	}
	if r.policy.OnlyForUncoveredSignatures && !r.uncovered.Uncovered(pc.Language, pc.ErrorSignature) {
		return refuse("signature covered")
	}
	return usage, true
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("proposer panicked: %v", p.v) }
