package verify

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/repairloop/internal/checks"
)

//go:embed harness/syntax_check.py
var syntaxCheckScript string

//go:embed harness/unit_runner.py
var unitRunnerScript string

// Case is one call of the function under test. Args and Expected may hold
// any Go value; values without an exact JSON form make the payload lossy.
type Case struct {
	Args     []any
	Expected any
}

// harnessOutcome is the single JSON object the Python harnesses print.
type harnessOutcome struct {
	OK           bool   `json:"ok"`
	Passed       bool   `json:"passed"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"`
}

// SyntaxVerifier is a parse-only check of a Python source file.
type SyntaxVerifier struct {
	identity
	tc      Toolchain
	timeout time.Duration
}

// NewSyntaxVerifier creates the "syntax" stage.
func NewSyntaxVerifier(tc Toolchain) *SyntaxVerifier {
	return &SyntaxVerifier{
		identity: identity{name: "syntax_verifier", version: "1.0.0"},
		tc:       tc.withDefaults(),
		timeout:  DefaultSyntaxTimeout,
	}
}

func (v *SyntaxVerifier) Verify(ctx context.Context, sourceFile string) Result {
	res, err := v.tc.run(ctx, checks.Command{
		Name:    v.tc.Python,
		Args:    []string{"-I", "-c", syntaxCheckScript, sourceFile},
		Timeout: v.timeout,
	})
	if err != nil {
		return v.fail("RuntimeError", fmt.Sprintf("failed to execute %s: %v", v.tc.Python, err), StageSyntax)
	}
	if res.TimedOut {
		return v.fail("TimeoutError", "syntax check "+exceeded(v.timeout), StageSyntax)
	}

	var out harnessOutcome
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &out); err != nil {
		return v.fail("RuntimeError", "invalid syntax check output: "+firstLine(v.tc.truncate(res.Stdout+res.Stderr)), StageSyntax)
	}
	if out.OK {
		return v.pass()
	}
	// Reported as SyntaxError in the combined error text; the precise class
	// (IndentationError, TabError) stays in ErrorType.
	r := v.fail(out.ErrorType, out.Message, StageSyntax)
	r.Error = "SyntaxError: " + out.Message
	return r
}

func (v *SyntaxVerifier) TaskPayloadSnapshot() (Payload, bool) { return Payload{}, false }

func (v *SyntaxVerifier) ReplayConfig() Config { return Config{"kind": "syntax"} }

// FunctionVerifier loads the candidate into a fresh interpreter process and
// calls the named function once per case. The process is killed when the
// timeout elapses.
type FunctionVerifier struct {
	identity
	tc           Toolchain
	functionName string
	timeout      time.Duration
	payload      Payload
	lossy        bool
}

// NewFunctionVerifier creates the unit-test stage.
func NewFunctionVerifier(functionName string, cases []Case, timeout time.Duration, tc Toolchain) *FunctionVerifier {
	if timeout <= 0 {
		timeout = DefaultPyTimeout
	}
	payloadCases := make([]any, 0, len(cases))
	lossy := false
	for _, c := range cases {
		args, argsLossy := Canonicalize(append([]any{}, c.Args...))
		expected, expLossy := Canonicalize(c.Expected)
		lossy = lossy || argsLossy || expLossy
		payloadCases = append(payloadCases, map[string]any{"args": args, "expected": expected})
	}
	return &FunctionVerifier{
		identity:     identity{name: "function_verifier", version: "1.1.0"},
		tc:           tc.withDefaults(),
		functionName: functionName,
		timeout:      timeout,
		payload:      Payload{"function_name": functionName, "cases": payloadCases},
		lossy:        lossy,
	}
}

func (v *FunctionVerifier) Verify(ctx context.Context, sourceFile string) Result {
	input, err := json.Marshal(map[string]any{
		"source_file":   sourceFile,
		"function_name": v.functionName,
		"cases":         v.payload["cases"],
	})
	if err != nil {
		return v.fail("RuntimeError", fmt.Sprintf("encode unit payload: %v", err), StageUnitTest)
	}

	res, err := v.tc.run(ctx, checks.Command{
		Name:    v.tc.Python,
		Args:    []string{"-I", "-c", unitRunnerScript},
		Stdin:   input,
		Timeout: v.timeout,
	})
	if err != nil {
		return v.fail("RuntimeError", fmt.Sprintf("failed to execute %s: %v", v.tc.Python, err), StageUnitTest)
	}
	if res.TimedOut {
		return v.fail("TimeoutError", exceeded(v.timeout), StageTimeout)
	}

	stdout := strings.TrimSpace(res.Stdout)
	if stdout == "" {
		return v.fail("RuntimeError", "unit worker returned no result", StageUnitTest)
	}
	var out harnessOutcome
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return v.fail("RuntimeError", "unit worker returned invalid payload", StageUnitTest)
	}
	if out.Passed {
		return v.pass()
	}
	errType := out.ErrorType
	if errType == "" {
		errType = "AssertionError"
	}
	return v.fail(errType, out.ErrorMessage, StageUnitTest)
}

func (v *FunctionVerifier) TaskPayloadSnapshot() (Payload, bool) { return v.payload, v.lossy }

func (v *FunctionVerifier) ReplayConfig() Config {
	return Config{"kind": "function", "timeout_seconds": seconds(v.timeout)}
}

// CompositeVerifier is the Python pipeline: syntax, then the unit test.
type CompositeVerifier struct {
	identity
	syntax  *SyntaxVerifier
	unit    *FunctionVerifier
	timeout time.Duration
}

// NewCompositeVerifier wires the two Python stages.
func NewCompositeVerifier(functionName string, cases []Case, timeout time.Duration, tc Toolchain) *CompositeVerifier {
	unit := NewFunctionVerifier(functionName, cases, timeout, tc)
	return &CompositeVerifier{
		identity: identity{name: "composite_verifier", version: "1.0.0"},
		syntax:   NewSyntaxVerifier(tc),
		unit:     unit,
		timeout:  unit.timeout,
	}
}

func (v *CompositeVerifier) Verify(ctx context.Context, sourceFile string) Result {
	return v.runStages(ctx, sourceFile, []stage{
		{name: StageSyntax, verifier: v.syntax},
		{name: StageUnitTest, verifier: v.unit},
	})
}

func (v *CompositeVerifier) TaskPayloadSnapshot() (Payload, bool) {
	return v.unit.TaskPayloadSnapshot()
}

func (v *CompositeVerifier) ReplayConfig() Config {
	return Config{"kind": "composite", "timeout_seconds": seconds(v.timeout)}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
