package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/envfp"
	"github.com/lucasnoah/repairloop/internal/hashing"
	"github.com/lucasnoah/repairloop/internal/propose"
	"github.com/lucasnoah/repairloop/internal/task"
	"github.com/lucasnoah/repairloop/internal/verify"
)

// scriptedVerifier decides pass/fail from the candidate text.
type scriptedVerifier struct {
	decide func(code string) verify.Result
	seen   []string
}

func (v *scriptedVerifier) Name() string    { return "scripted_verifier" }
func (v *scriptedVerifier) Version() string { return "1.0.0" }

func (v *scriptedVerifier) Verify(_ context.Context, sourceFile string) verify.Result {
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return failure("RuntimeError", err.Error(), verify.StageUnitTest)
	}
	v.seen = append(v.seen, string(data))
	r := v.decide(string(data))
	r.VerifierName, r.VerifierVersion = v.Name(), v.Version()
	return r
}

func (v *scriptedVerifier) TaskPayloadSnapshot() (verify.Payload, bool) {
	return verify.Payload{
		"function_name": "add",
		"cases":         []any{map[string]any{"args": []any{2, 3}, "expected": 5}},
	}, false
}

func (v *scriptedVerifier) ReplayConfig() verify.Config {
	return verify.Config{"kind": "scripted"}
}

func failure(errType, msg, stage string) verify.Result {
	return verify.Result{Error: errType + ": " + msg, ErrorType: errType, ErrorMessage: msg, StageFailed: stage}
}

// passWhen passes candidates containing want and fails the rest with an
// assertion mismatch.
func passWhen(want string) *scriptedVerifier {
	return &scriptedVerifier{decide: func(code string) verify.Result {
		if strings.Contains(code, want) {
			return verify.Result{Passed: true}
		}
		return failure("AssertionError", "case 1 mismatch: args=(2, 3), expected=5, actual=-1", verify.StageUnitTest)
	}}
}

// colonAware reports a syntax error for a def line without its colon.
func colonAware(pass string) *scriptedVerifier {
	return &scriptedVerifier{decide: func(code string) verify.Result {
		first := strings.SplitN(code, "\n", 2)[0]
		if strings.HasPrefix(first, "def ") && !strings.HasSuffix(first, ":") {
			return failure("SyntaxError", "expected ':' (solution.py, line 1)", verify.StageSyntax)
		}
		if strings.Contains(code, pass) {
			return verify.Result{Passed: true}
		}
		return failure("AssertionError", "case 1 mismatch: args=(2, 3), expected=5, actual=-1", verify.StageUnitTest)
	}}
}

type memorySink struct {
	events []*audit.Event
	err    error
}

func (m *memorySink) Log(_ context.Context, ev *audit.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

type sequenceProposer struct {
	codes []string
	calls int
	seen  []propose.Context
}

func (p *sequenceProposer) ID() string { return "sequence_proposer" }

func (p *sequenceProposer) Propose(_ context.Context, pc propose.Context) (*propose.Result, error) {
	p.calls++
	p.seen = append(p.seen, pc)
	if len(p.codes) == 0 {
		return nil, nil
	}
	code := p.codes[0]
	p.codes = p.codes[1:]
	return propose.NewResult(p.ID(), code, pc), nil
}

var testFingerprint = envfp.Fingerprint{
	PythonVersion:  "3.12.1",
	NodeVersion:    "v20.11.0",
	TSCVersion:     envfp.Unknown,
	Platform:       "linux-amd64",
	RuntimeVersion: "go1.25.5",
}

func newLoop(opts ...Option) *Loop {
	base := []Option{
		WithFingerprint(func(context.Context) envfp.Fingerprint { return testFingerprint }),
		WithClock(func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }),
	}
	return New(append(base, opts...)...)
}

func proposerRuntime(p propose.Proposer) *propose.Runtime {
	policy := propose.DefaultPolicy()
	policy.Enabled = true
	policy.AllowedLanguages = []string{"py"}
	policy.MaxCallsPerTask = 2
	policy.MaxCallsPerDay = 10
	policy.MaxTotalSecondsPerDay = 10
	policy.OnlyForUncoveredSignatures = false
	policy.Timeout = time.Second
	return propose.NewRuntime(policy, p)
}

func pyTask(t *testing.T, id string, attempts ...string) task.Task {
	return task.New(id, id+"(a, b)", filepath.Join(t.TempDir(), "solution.py"), attempts, "py")
}

func validateAll(t *testing.T, events []*audit.Event) {
	t.Helper()
	for i, ev := range events {
		if err := audit.Validate(ev); err != nil {
			t.Errorf("event %d fails schema: %v", i, err)
		}
	}
}

func TestRun_SecondAttemptPasses(t *testing.T) {
	sink := &memorySink{}
	tk := pyTask(t, "add", "def add(a, b):\n    return a - b\n", "def add(a, b):\n    return a + b\n")

	res, err := newLoop().Run(context.Background(), tk, passWhen("a + b"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done || res.AttemptsUsed != 2 || res.LastError != "" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	first, second := sink.events[0], sink.events[1]
	if audit.Deref(first.FailureType) != "assertion_fail" {
		t.Errorf("expected assertion_fail, got %v", audit.Deref(first.FailureType))
	}
	if !first.PatcherAttempted || first.PatchApplied || first.PatcherID != nil {
		t.Errorf("expected patcher attempted without a patch, got %+v", first)
	}
	if !second.Passed || second.FailureType != nil || second.VerifierStageFailed != nil {
		t.Errorf("expected clean pass, got %+v", second)
	}
	if second.PatcherAttempted {
		t.Error("expected no patcher on a passing candidate")
	}
	if first.RunID != second.RunID || first.RunID != res.RunID {
		t.Errorf("expected one run id, got %s %s %s", first.RunID, second.RunID, res.RunID)
	}
	if first.AttemptIndex != 1 || second.AttemptIndex != 2 {
		t.Errorf("expected attempt indexes 1 and 2, got %d and %d", first.AttemptIndex, second.AttemptIndex)
	}
	if first.ParentArtifactHash != nil || second.ParentArtifactHash != nil {
		t.Error("expected original attempts to have no parent")
	}
	if first.TaskHash != second.TaskHash {
		t.Error("expected one task hash per run")
	}
	validateAll(t, sink.events)
}

func TestRun_PatchFixesMissingColon(t *testing.T) {
	sink := &memorySink{}
	tk := pyTask(t, "add", "def add(a, b)\n    return a + b\n")

	res, err := newLoop().Run(context.Background(), tk, colonAware("a + b"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done || res.AttemptsUsed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	original, patched := sink.events[0], sink.events[1]
	if audit.Deref(original.FailureType) != "syntax_error" || audit.Deref(original.VerifierStageFailed) != "syntax" {
		t.Errorf("expected syntax failure, got %v at %v", audit.Deref(original.FailureType), audit.Deref(original.VerifierStageFailed))
	}
	if audit.Deref(original.PatcherID) != "syntax_fix_patcher" || original.PatchApplied {
		t.Errorf("expected chosen patcher recorded without patch_applied, got %+v", original)
	}
	if !patched.PatchApplied || !patched.Passed {
		t.Errorf("expected applied passing patch, got %+v", patched)
	}
	if audit.Deref(patched.ParentArtifactHash) != original.ArtifactHash {
		t.Errorf("expected parent %s, got %s", original.ArtifactHash, audit.Deref(patched.ParentArtifactHash))
	}
	if patched.ChangedLinesCount == 0 {
		t.Error("expected changed lines")
	}
	if diff := cmp.Diff([]int{1}, patched.ChangedLineNumbers); diff != "" {
		t.Errorf("changed lines (-want +got):\n%s", diff)
	}
	if audit.Deref(patched.DeltaSummary) != "changed_lines=1; sample=1" {
		t.Errorf("unexpected delta summary %q", audit.Deref(patched.DeltaSummary))
	}
	if patched.AttemptIndex != 1 {
		t.Errorf("expected patched event on attempt 1, got %d", patched.AttemptIndex)
	}
	if patched.Code != "def add(a, b):\n    return a + b\n" {
		t.Errorf("unexpected patched code %q", patched.Code)
	}
	validateAll(t, sink.events)
}

func TestRun_Exhausted(t *testing.T) {
	sink := &memorySink{}
	tk := pyTask(t, "add", "def add(a, b):\n    return a - b\n", "def add(a, b):\n    return b - a\n")

	res, err := newLoop().Run(context.Background(), tk, passWhen("a + b"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Done || res.AttemptsUsed != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.LastError, "AssertionError: case 1 mismatch") {
		t.Errorf("unexpected last error %q", res.LastError)
	}
	if len(sink.events) != 2 {
		t.Errorf("expected 2 events, got %d", len(sink.events))
	}
}

func TestRun_ProposerFallback(t *testing.T) {
	sink := &memorySink{}
	proposer := &sequenceProposer{codes: []string{"def add(a, b):\n    return a * b\n"}}
	tk := pyTask(t, "p_fallback", "def add(a, b):\n    return a - b\n", "def add(a, b):\n    return a + b\n")

	res, err := newLoop(WithProposer(proposerRuntime(proposer))).Run(context.Background(), tk, passWhen("a + b"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done || res.AttemptsUsed != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if proposer.calls != 1 {
		t.Errorf("expected 1 proposer call, got %d", proposer.calls)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(sink.events))
	}
	original, proposed, fallback := sink.events[0], sink.events[1], sink.events[2]
	if original.ProposerUsed || fallback.ProposerUsed {
		t.Error("expected proposer fields only on the proposed event")
	}
	if !proposed.ProposerUsed || proposed.Passed {
		t.Errorf("expected failing proposal event, got %+v", proposed)
	}
	if audit.Deref(proposed.ParentArtifactHash) != original.ArtifactHash {
		t.Error("expected proposal lineage to the original candidate")
	}
	if audit.Deref(proposed.ProposerID) != "sequence_proposer" || proposed.ProposalHash == nil || proposed.ProposerInputHash == nil {
		t.Errorf("expected proposer identity and hashes, got %+v", proposed)
	}
	if proposed.ProposerLatencyMs == nil || proposed.ProposerBudgetSpent == nil {
		t.Fatal("expected latency and budget")
	}
	if proposed.ProposerBudgetSpent.CallsDay != 1 || proposed.ProposerBudgetSpent.CallsTask != 1 {
		t.Errorf("unexpected budget %+v", *proposed.ProposerBudgetSpent)
	}
	if proposed.AttemptIndex != 1 || fallback.AttemptIndex != 2 {
		t.Errorf("unexpected attempt indexes %d and %d", proposed.AttemptIndex, fallback.AttemptIndex)
	}
	validateAll(t, sink.events)
}

func TestRun_PatchersBeforeProposer(t *testing.T) {
	sink := &memorySink{}
	proposer := &sequenceProposer{codes: []string{"def inc(x):\n    return x + 1\n"}}
	tk := task.New("p_order", "inc(x)", filepath.Join(t.TempDir(), "solution.py"), []string{"def inc(x)\n    return x + 1\n"}, "py")

	res, err := newLoop(WithProposer(proposerRuntime(proposer))).Run(context.Background(), tk, colonAware("x + 1"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done {
		t.Errorf("expected done, got %+v", res)
	}
	if proposer.calls != 0 {
		t.Errorf("expected the patch to win without a proposer call, got %d calls", proposer.calls)
	}
}

func TestRun_ProposalBuildsOnFailedPatch(t *testing.T) {
	sink := &memorySink{}
	proposer := &sequenceProposer{codes: []string{"def add(a, b):\n    return a + b\n"}}
	tk := pyTask(t, "add", "def add(a, b)\n    return a - b\n")

	res, err := newLoop(WithProposer(proposerRuntime(proposer))).Run(context.Background(), tk, colonAware("a + b"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done || res.AttemptsUsed != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(sink.events))
	}
	patched, proposed := sink.events[1], sink.events[2]
	if !patched.PatchApplied || patched.Passed {
		t.Errorf("expected a failing patched event, got %+v", patched)
	}
	if audit.Deref(proposed.ParentArtifactHash) != patched.ArtifactHash {
		t.Error("expected proposal lineage to the patched candidate")
	}
	if got := proposer.seen[0]; got.Code != patched.Code || got.FailureType != "assertion_fail" || got.StageFailed != "unit_test" {
		t.Errorf("expected proposer to see the patched base, got %+v", got)
	}
	validateAll(t, sink.events)
}

func TestRun_AdmittedProposalWithoutCodeWritesNoEvent(t *testing.T) {
	sink := &memorySink{}
	proposer := &sequenceProposer{}
	tk := pyTask(t, "add", "def add(a, b):\n    return a - b\n")

	res, err := newLoop(WithProposer(proposerRuntime(proposer))).Run(context.Background(), tk, passWhen("a + b"), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Done {
		t.Error("expected run to fail")
	}
	if proposer.calls != 1 {
		t.Errorf("expected one admitted call, got %d", proposer.calls)
	}
	if len(sink.events) != 1 {
		t.Errorf("expected only the original event, got %d", len(sink.events))
	}
}

func TestRun_TaskHash(t *testing.T) {
	run := func(fp envfp.Fingerprint) *audit.Event {
		sink := &memorySink{}
		l := newLoop(WithFingerprint(func(context.Context) envfp.Fingerprint { return fp }))
		if _, err := l.Run(context.Background(), pyTask(t, "add", "def add(a, b):\n    return a + b\n"), passWhen("a + b"), sink); err != nil {
			t.Fatalf("run: %v", err)
		}
		return sink.events[0]
	}
	a, b := run(testFingerprint), run(testFingerprint)
	if a.TaskHash != b.TaskHash {
		t.Error("expected identical task hash for identical inputs")
	}
	if a.RunID == b.RunID {
		t.Error("expected a fresh run id per run")
	}
	other := testFingerprint
	other.NodeVersion = "v22.0.0"
	if run(other).TaskHash == a.TaskHash {
		t.Error("expected environment to change the task hash")
	}
	if a.ArtifactHash != hashing.Text("def add(a, b):\n    return a + b\n") {
		t.Error("expected artifact hash of the verified code")
	}
}

func TestRun_SinkErrorStopsRun(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	v := passWhen("a + b")
	_, err := newLoop().Run(context.Background(), pyTask(t, "add", "def add(a, b):\n    return a - b\n", "def add(a, b):\n    return a + b\n"), v, sink)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected sink error, got %v", err)
	}
	if len(v.seen) != 1 {
		t.Errorf("expected run to stop after the first verification, got %d", len(v.seen))
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLoop().Run(ctx, pyTask(t, "add", "def add(a, b):\n    return a + b\n"), passWhen("a + b"), &memorySink{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_WritesTargetFile(t *testing.T) {
	tk := pyTask(t, "add", "def add(a, b):\n    return a + b\n")
	tk.TargetFile = filepath.Join(filepath.Dir(tk.TargetFile), "nested", "dir", "solution.py")
	if _, err := newLoop().Run(context.Background(), tk, passWhen("a + b"), &memorySink{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(tk.TargetFile)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "def add(a, b):\n    return a + b\n" {
		t.Errorf("unexpected target content %q", data)
	}
}

func TestRun_JSONLLogValidates(t *testing.T) {
	logger, err := audit.NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tk := pyTask(t, "add", "def add(a, b)\n    return a - b\n", "def add(a, b):\n    return a + b\n")
	if _, err := newLoop().Run(context.Background(), tk, colonAware("a + b"), logger); err != nil {
		t.Fatalf("run: %v", err)
	}
	records, err := audit.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	problems, err := audit.ValidateRecords(records)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(problems) != 0 {
		t.Errorf("expected valid log, got %+v", problems)
	}
}
