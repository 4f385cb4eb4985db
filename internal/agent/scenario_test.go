package agent

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/task"
	"github.com/lucasnoah/repairloop/internal/verify"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not on PATH", name)
	}
}

func pyAddVerifier() verify.Verifier {
	return verify.NewCompositeVerifier("add", []verify.Case{
		{Args: []any{2, 3}, Expected: 5},
		{Args: []any{-1, 1}, Expected: 0},
	}, 0, verify.Toolchain{})
}

func TestScenario_PythonSecondAttempt(t *testing.T) {
	requireBinary(t, "python3")
	sink := &memorySink{}
	tk := pyTask(t, "add", "def add(a, b):\n    return a - b\n", "def add(a, b):\n    return a + b\n")

	res, err := newLoop().Run(context.Background(), tk, pyAddVerifier(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done || res.AttemptsUsed != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	if audit.Deref(sink.events[0].FailureType) != "assertion_fail" {
		t.Errorf("expected assertion_fail, got %q", audit.Deref(sink.events[0].FailureType))
	}
	if audit.Deref(sink.events[0].VerifierStageFailed) != verify.StageUnitTest {
		t.Errorf("expected unit_test stage, got %q", audit.Deref(sink.events[0].VerifierStageFailed))
	}
	validateAll(t, sink.events)
}

func TestScenario_PythonMissingColon(t *testing.T) {
	requireBinary(t, "python3")
	sink := &memorySink{}
	tk := pyTask(t, "add", "def add(a, b)\n    return a + b\n")

	res, err := newLoop().Run(context.Background(), tk, pyAddVerifier(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done || res.AttemptsUsed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	original, patched := sink.events[0], sink.events[1]
	if audit.Deref(original.VerifierStageFailed) != verify.StageSyntax {
		t.Errorf("expected syntax stage, got %q", audit.Deref(original.VerifierStageFailed))
	}
	if audit.Deref(patched.PatcherID) != "syntax_fix_patcher" || !patched.PatchApplied {
		t.Errorf("expected syntax fix applied, got %+v", patched)
	}
	if audit.Deref(patched.ParentArtifactHash) != original.ArtifactHash {
		t.Error("expected lineage to the original candidate")
	}
	if patched.ChangedLinesCount == 0 {
		t.Error("expected a non-empty delta")
	}
	validateAll(t, sink.events)
}

func TestScenario_TypeScriptExportFix(t *testing.T) {
	requireBinary(t, "node")
	sink := &memorySink{}
	target := filepath.Join(t.TempDir(), "src", "solution.ts")
	tk := task.New("ts_add", "add(a, b)", target, []string{
		"function add(a: number, b: number): number {\n  return a + b;\n}\n",
	}, "ts")
	v := verify.NewTSCompositeVerifier("add", []task.Testcase{
		{Inputs: []any{2, 3}, Expected: 5},
	}, "add(a: number, b: number): number", 0, 0, verify.Toolchain{})

	res, err := newLoop().Run(context.Background(), tk, v, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Done {
		t.Fatalf("expected export fix to pass, got %+v", res)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	if audit.Deref(sink.events[1].PatcherID) != "ts_export_patcher" {
		t.Errorf("expected ts export patcher, got %q", audit.Deref(sink.events[1].PatcherID))
	}
	validateAll(t, sink.events)
}
