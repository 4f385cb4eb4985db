package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasnoah/repairloop/internal/checks"
	"github.com/lucasnoah/repairloop/internal/classify"
	"github.com/lucasnoah/repairloop/internal/fileutil"
	"github.com/lucasnoah/repairloop/internal/task"
)

// TSCVerifier type-checks (NoEmit) or builds the candidate. With the real
// compiler it runs tsc against the scaffolded project; otherwise it runs the
// offline checks and, when emitting, writes dist/solution.js itself.
type TSCVerifier struct {
	identity
	tc        Toolchain
	noEmit    bool
	stageName string
	timeout   time.Duration
}

// NewTSCVerifier creates a compile stage reporting failures as stageName.
func NewTSCVerifier(noEmit bool, stageName string, timeout time.Duration, tc Toolchain) *TSCVerifier {
	if timeout <= 0 {
		timeout = DefaultTSCTimeout
	}
	return &TSCVerifier{
		identity:  identity{name: "tsc_verifier", version: "1.1.0"},
		tc:        tc.withDefaults(),
		noEmit:    noEmit,
		stageName: stageName,
		timeout:   timeout,
	}
}

func (v *TSCVerifier) Verify(ctx context.Context, sourceFile string) Result {
	project, err := EnsureTSProject(sourceFile)
	if err != nil {
		return v.fail("TS0000", err.Error(), v.stageName)
	}
	if v.tc.UseTSC {
		return v.verifyWithCompiler(ctx, project)
	}
	return v.verifyOffline(ctx, project)
}

func (v *TSCVerifier) diagnostic(output string) Result {
	d := classify.ClassifyTSC(output)
	return v.fail(d.Code, d.Message, v.stageName)
}

func (v *TSCVerifier) verifyWithCompiler(ctx context.Context, p *TSProject) Result {
	args := []string{"-p", filepath.Join(p.Root, "tsconfig.json"), "--pretty", "false"}
	if v.noEmit {
		args = append(args, "--noEmit")
	}
	res, err := v.tc.run(ctx, checks.Command{Name: v.tc.TSC, Args: args, Dir: p.Root, Timeout: v.timeout})
	if err != nil {
		return v.diagnostic(fmt.Sprintf("error TS0000: failed to execute %s", v.tc.TSC))
	}
	if res.TimedOut {
		return v.diagnostic("error TS0000: tsc " + exceeded(v.timeout))
	}
	if res.ExitCode == 0 {
		return v.pass()
	}
	parsed := checks.ParseTSC(v.tc.truncate(res.Stdout + "\n" + res.Stderr))
	if len(parsed.Findings) == 0 {
		return v.diagnostic(firstLine(v.tc.truncate(res.Stdout + res.Stderr)))
	}
	return v.diagnostic(parsed.Findings[0].Diagnostic())
}

func (v *TSCVerifier) verifyOffline(ctx context.Context, p *TSProject) Result {
	data, err := os.ReadFile(p.Solution)
	if err != nil {
		return v.fail("TS0000", fmt.Sprintf("read candidate: %v", err), v.stageName)
	}
	source := string(data)
	if diag := literalReturnDiagnostic(source); diag != "" {
		return v.diagnostic(diag)
	}

	transpiled := transpileCJS(source)
	if diag := v.nodeCheck(ctx, p, transpiled); diag != "" {
		return v.diagnostic(diag)
	}

	if !v.noEmit {
		if err := fileutil.WriteAtomic(filepath.Join(p.Root, "dist", "solution.js"), []byte(transpiled)); err != nil {
			return v.fail("TS0000", fmt.Sprintf("emit failed: %v", err), v.stageName)
		}
	}
	return v.pass()
}

// nodeCheck syntax-checks the transpiled module and returns a tsc-style
// diagnostic line, or "" when it parses.
func (v *TSCVerifier) nodeCheck(ctx context.Context, p *TSProject, transpiled string) string {
	tmp, err := os.CreateTemp(p.Root, ".offline_check_*.js")
	if err != nil {
		return fmt.Sprintf("error TS0000: create check file: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(transpiled); err != nil {
		tmp.Close()
		return fmt.Sprintf("error TS0000: write check file: %v", err)
	}
	tmp.Close()

	res, err := v.tc.run(ctx, checks.Command{Name: v.tc.Node, Args: []string{"--check", tmp.Name()}, Dir: p.Root, Timeout: v.timeout})
	if err != nil {
		return "error TS0000: failed to execute node --check"
	}
	if res.TimedOut {
		return "error TS0000: tsc " + exceeded(v.timeout)
	}
	if res.ExitCode == 0 {
		return ""
	}
	merged := strings.TrimSpace(v.tc.truncate(res.Stdout + "\n" + res.Stderr))
	head := "syntax error"
	for _, line := range strings.Split(merged, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "SyntaxError") {
			head = strings.TrimSpace(line)
			break
		}
	}
	if head == "syntax error" && merged != "" {
		head = firstLine(merged)
	}
	return "error TS1005: " + head
}

func (v *TSCVerifier) TaskPayloadSnapshot() (Payload, bool) { return Payload{}, false }

func (v *TSCVerifier) ReplayConfig() Config {
	return Config{
		"kind":            "tsc",
		"no_emit":         v.noEmit,
		"stage_name":      v.stageName,
		"timeout_seconds": seconds(v.timeout),
		"use_tsc":         v.tc.UseTSC,
	}
}

// TSRunnerVerifier executes the built module against the test cases in a
// node subprocess and parses the single JSON object it prints.
type TSRunnerVerifier struct {
	identity
	tc           Toolchain
	functionName string
	testcases    []any
	lossy        bool
	timeout      time.Duration
}

// NewTSRunnerVerifier creates the runner stage.
func NewTSRunnerVerifier(functionName string, testcases []task.Testcase, timeout time.Duration, tc Toolchain) *TSRunnerVerifier {
	if timeout <= 0 {
		timeout = DefaultTSTimeout
	}
	cases := make([]any, 0, len(testcases))
	lossy := false
	for _, c := range testcases {
		inputs, inLossy := Canonicalize(append([]any{}, c.Inputs...))
		expected, expLossy := Canonicalize(c.Expected)
		lossy = lossy || inLossy || expLossy
		cases = append(cases, map[string]any{"inputs": inputs, "expected": expected})
	}
	return &TSRunnerVerifier{
		identity:     identity{name: "ts_runner_verifier", version: "1.0.0"},
		tc:           tc.withDefaults(),
		functionName: functionName,
		testcases:    cases,
		lossy:        lossy,
		timeout:      timeout,
	}
}

func (v *TSRunnerVerifier) Verify(ctx context.Context, sourceFile string) Result {
	project, err := EnsureTSProject(sourceFile)
	if err != nil {
		return v.fail("RuntimeError", err.Error(), StageUnitTest)
	}
	payload := map[string]any{"function_name": v.functionName, "testcases": v.testcases}
	if err := fileutil.WriteJSON(filepath.Join(project.Root, "task_payload.json"), payload); err != nil {
		return v.fail("RuntimeError", fmt.Sprintf("write task payload: %v", err), StageUnitTest)
	}

	res, err := v.tc.run(ctx, checks.Command{Name: v.tc.Node, Args: []string{"runner.js"}, Dir: project.Root, Timeout: v.timeout})
	if err != nil {
		return v.fail("RuntimeError", fmt.Sprintf("failed to execute %s: %v", v.tc.Node, err), StageUnitTest)
	}
	if res.TimedOut {
		return v.fail("TimeoutError", "runner "+exceeded(v.timeout), StageTimeout)
	}

	stdout := strings.TrimSpace(v.tc.truncate(res.Stdout))
	if stdout == "" {
		return v.fail("RuntimeError", "empty runner output", StageUnitTest)
	}
	var out struct {
		Passed       bool   `json:"passed"`
		ErrorType    string `json:"error_type"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		msg := "invalid runner JSON output"
		if merged := strings.TrimSpace(v.tc.truncate(res.Stdout + "\n" + res.Stderr)); merged != "" {
			msg += ": " + firstLine(merged)
		}
		return v.fail("RuntimeError", msg, StageUnitTest)
	}
	if out.Passed {
		return v.pass()
	}
	if out.ErrorType == "" {
		out.ErrorType = "AssertionError"
	}
	if out.ErrorMessage == "" {
		out.ErrorMessage = "unit test failed"
	}
	return v.fail(out.ErrorType, out.ErrorMessage, StageUnitTest)
}

func (v *TSRunnerVerifier) TaskPayloadSnapshot() (Payload, bool) {
	return Payload{"function_name": v.functionName, "testcases": v.testcases}, v.lossy
}

func (v *TSRunnerVerifier) ReplayConfig() Config {
	return Config{"kind": "ts_runner", "timeout_seconds": seconds(v.timeout)}
}

// TSCompositeVerifier is the TypeScript pipeline: type-check, build, run.
type TSCompositeVerifier struct {
	identity
	functionName string
	signature    string
	tsc          *TSCVerifier
	build        *TSCVerifier
	runner       *TSRunnerVerifier
	timeout      time.Duration
	tscTimeout   time.Duration
	useTSC       bool
}

// NewTSCompositeVerifier wires the three TypeScript stages.
func NewTSCompositeVerifier(functionName string, testcases []task.Testcase, signature string, timeout, tscTimeout time.Duration, tc Toolchain) *TSCompositeVerifier {
	runner := NewTSRunnerVerifier(functionName, testcases, timeout, tc)
	check := NewTSCVerifier(true, StageTSC, tscTimeout, tc)
	return &TSCompositeVerifier{
		identity:     identity{name: "ts_composite", version: "1.0.0"},
		functionName: functionName,
		signature:    signature,
		tsc:          check,
		build:        NewTSCVerifier(false, StageBuild, tscTimeout, tc),
		runner:       runner,
		timeout:      runner.timeout,
		tscTimeout:   check.timeout,
		useTSC:       tc.UseTSC,
	}
}

func (v *TSCompositeVerifier) Verify(ctx context.Context, sourceFile string) Result {
	return v.runStages(ctx, sourceFile, []stage{
		{name: StageTSC, verifier: v.tsc},
		{name: StageBuild, verifier: v.build},
		{name: StageUnitTest, verifier: v.runner},
	})
}

func (v *TSCompositeVerifier) TaskPayloadSnapshot() (Payload, bool) {
	var signature any
	if v.signature != "" {
		signature = v.signature
	}
	return Payload{
		"language":      "ts",
		"function_name": v.functionName,
		"signature":     signature,
		"testcases":     v.runner.testcases,
	}, v.runner.lossy
}

func (v *TSCompositeVerifier) ReplayConfig() Config {
	return Config{
		"kind":                "ts_composite",
		"timeout_seconds":     seconds(v.timeout),
		"tsc_timeout_seconds": seconds(v.tscTimeout),
		"use_tsc":             v.useTSC,
	}
}
