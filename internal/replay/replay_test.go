package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/envfp"
	"github.com/lucasnoah/repairloop/internal/verify"
)

var current = envfp.Fingerprint{
	PythonVersion:  "3.12.1",
	NodeVersion:    "v20.11.0",
	TSCVersion:     envfp.Unknown,
	Platform:       "linux-amd64",
	RuntimeVersion: "go1.25.5",
}

// sumVerifier passes candidates that add and times out on loops.
type sumVerifier struct {
	mu    sync.Mutex
	files []string
}

func (v *sumVerifier) Name() string    { return "composite_verifier" }
func (v *sumVerifier) Version() string { return "1.0.0" }

func (v *sumVerifier) Verify(_ context.Context, sourceFile string) verify.Result {
	v.mu.Lock()
	v.files = append(v.files, sourceFile)
	v.mu.Unlock()
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return verify.Result{Error: err.Error(), ErrorType: "RuntimeError", StageFailed: verify.StageUnitTest}
	}
	code := string(data)
	switch {
	case strings.Contains(code, "while True"):
		return verify.Result{Error: "TimeoutError: exceeded 1s", ErrorType: "TimeoutError", StageFailed: verify.StageTimeout}
	case strings.Contains(code, "a + b"):
		return verify.Result{Passed: true}
	default:
		return verify.Result{Error: "AssertionError: mismatch", ErrorType: "AssertionError", StageFailed: verify.StageUnitTest}
	}
}

func (v *sumVerifier) TaskPayloadSnapshot() (verify.Payload, bool) { return verify.Payload{}, false }
func (v *sumVerifier) ReplayConfig() verify.Config                 { return verify.Config{} }

func newEngine(v *sumVerifier, opts ...Option) *Engine {
	base := []Option{
		WithBuilder(func(verify.Recorded) (verify.Verifier, error) { return v, nil }),
		WithFingerprint(func(context.Context) envfp.Fingerprint { return current }),
		WithWorkDir(os.TempDir()),
	}
	return New(append(base, opts...)...)
}

func record(passed bool, code any) map[string]any {
	rec := map[string]any{
		"run_id":           "r1",
		"attempt_index":    1,
		"task_id":          "add",
		"language":         "py",
		"task_hash":        "th",
		"artifact_hash":    "ah",
		"task_payload":     map[string]any{"function_name": "add", "cases": []any{map[string]any{"args": []any{1, 2}, "expected": 3}}},
		"payload_is_lossy": false,
		"verifier_name":    "composite_verifier",
		"verifier_version": "1.0.0",
		"verifier_config":  map[string]any{"kind": "composite", "timeout_seconds": 1.0},
		"env_fingerprint":  current,
		"code":             code,
		"passed":           passed,
		"proposer_used":    false,
	}
	if !passed {
		rec["failure_type"] = "assertion_fail"
		rec["error_signature"] = "AssertionError:mismatch"
		rec["verifier_stage_failed"] = "unit_test"
	}
	return rec
}

func readRecords(t *testing.T, lines ...map[string]any) []audit.Record {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		data, err := json.Marshal(l)
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	records, err := audit.ReadFile(path)
	require.NoError(t, err)
	return records
}

func TestReplay_Empty(t *testing.T) {
	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 0, m.Records)
	assert.Equal(t, 100.0, m.ReplayMatchRate)
	assert.NotNil(t, m.TopErrorSignature)
	assert.NotNil(t, m.FlakyKeys)
	assert.NotNil(t, m.MismatchSamples)
}

func TestReplay_LossyRecordIsNotCompared(t *testing.T) {
	lossy := record(true, "def add(a, b):\n    return a - b\n")
	lossy["payload_is_lossy"] = true
	lossy["task_payload"] = map[string]any{"function_name": "add", "cases": []any{map[string]any{"args": []any{"<set len=2>"}, "expected": 3}}}
	v := &sumVerifier{}

	m, code, err := newEngine(v).Replay(context.Background(), readRecords(t, lossy))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, m.Records)
	assert.Equal(t, 0, m.ReplayEligible)
	assert.Equal(t, 1, m.UnreplayableLossy)
	assert.Equal(t, 100.0, m.ReplayMatchRate)
	assert.Empty(t, m.MismatchSamples)
	assert.Empty(t, v.files, "lossy record must not be verified")
}

func TestReplay_UsesLoggedProposedCode(t *testing.T) {
	rec := record(true, "def add(a, b):\n    return a + b\n")
	rec["proposer_used"] = true
	rec["proposer_id"] = "command_proposer"

	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), readRecords(t, rec))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, m.ReplayEligible)
	assert.Equal(t, 1, m.ReplayMatch)
	assert.Equal(t, 0, m.UnreplayableProposerMissingCode)
}

func TestReplay_ProposerMissingCode(t *testing.T) {
	rec := record(false, nil)
	rec["proposer_used"] = true

	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), readRecords(t, rec))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 0, m.ReplayEligible)
	assert.Equal(t, 1, m.UnreplayableProposerMissingCode)
}

func TestReplay_MissingCodeIsMismatch(t *testing.T) {
	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), readRecords(t, record(true, nil)))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, 0, m.ReplayEligible)
	require.Len(t, m.MismatchSamples, 1)
	assert.Equal(t, 1, m.MismatchSamples[0].Index)
	assert.True(t, m.MismatchSamples[0].LoggedPassed)
}

func TestReplay_Mismatch(t *testing.T) {
	records := readRecords(t,
		record(false, "def add(a, b):\n    return a - b\n"),
		record(true, "def add(a, b):\n    return a - b\n"),
	)
	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, 2, m.ReplayEligible)
	assert.Equal(t, 1, m.ReplayMatch)
	assert.Equal(t, 50.0, m.ReplayMatchRate)
	want := []Mismatch{{Index: 2, RunID: "r1", TaskID: "add", LoggedPassed: true, ReplayedPassed: false, Reason: "AssertionError: mismatch"}}
	if diff := cmp.Diff(want, m.MismatchSamples); diff != "" {
		t.Errorf("mismatch samples (-want +got):\n%s", diff)
	}
}

func TestReplay_MismatchSamplesCapped(t *testing.T) {
	var lines []map[string]any
	for i := 0; i < 25; i++ {
		lines = append(lines, record(true, "def add(a, b):\n    return a - b\n"))
	}
	m, code, err := newEngine(&sumVerifier{}, WithParallelism(4)).Replay(context.Background(), readRecords(t, lines...))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	require.Len(t, m.MismatchSamples, maxMismatches)
	assert.Equal(t, 1, m.MismatchSamples[0].Index)
	assert.Equal(t, 20, m.MismatchSamples[19].Index)
}

func TestReplay_RebuildFailureIsMismatch(t *testing.T) {
	e := New(
		WithBuilder(func(verify.Recorded) (verify.Verifier, error) {
			return nil, verify.ErrMalformedPayload
		}),
		WithFingerprint(func(context.Context) envfp.Fingerprint { return current }),
	)
	m, code, err := e.Replay(context.Background(), readRecords(t, record(false, "def add(a, b):\n    pass\n")))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, 0, m.ReplayMatch)
	require.Len(t, m.MismatchSamples, 1)
	assert.Contains(t, m.MismatchSamples[0].Reason, "malformed")
}

func TestReplay_TimeoutRate(t *testing.T) {
	loop := record(false, "def add(a, b):\n    while True:\n        pass\n")
	loop["verifier_stage_failed"] = "timeout"
	records := readRecords(t, loop, record(true, "def add(a, b):\n    return a + b\n"))

	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 50.0, m.TimeoutRate)
}

func TestReplay_FlakyKeysAndGroups(t *testing.T) {
	// Same task, artifact and verifier identity but outcomes that differ on
	// replay.
	first := record(false, "def add(a, b):\n    return a - b\n")
	second := record(false, "def add(a, b):\n    return a + b\n")
	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(), readRecords(t, first, second))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, [][]string{{"py", "th", "ah", "composite_verifier", "1.0.0"}}, m.FlakyKeys)
	assert.Equal(t, []FlakyGroup{{
		Language:            "py",
		FailureType:         "assertion_fail",
		ErrorSignature:      "AssertionError:mismatch",
		VerifierStageFailed: "unit_test",
	}}, m.FlakyGroups)
}

func TestReplay_TopErrorSignatures(t *testing.T) {
	unknown := record(false, "def add(a, b):\n    return a - b\n")
	delete(unknown, "error_signature")
	records := readRecords(t,
		record(false, "def add(a, b):\n    return a - b\n"),
		record(false, "def add(a, b):\n    return b - a\n"),
		unknown,
		record(true, "def add(a, b):\n    return a + b\n"),
	)
	m, _, err := newEngine(&sumVerifier{}).Replay(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []SignatureCount{
		{ErrorSignature: "AssertionError:mismatch", Count: 2},
		{ErrorSignature: "UNKNOWN", Count: 1},
	}, m.TopErrorSignature)
}

func TestReplay_EnvFingerprintMismatch(t *testing.T) {
	drifted := record(true, "def add(a, b):\n    return a + b\n")
	other := current
	other.PythonVersion = "3.11.0"
	drifted["env_fingerprint"] = other
	legacy := record(true, "def add(a, b):\n    return a + b\n")
	delete(legacy, "env_fingerprint")

	m, code, err := newEngine(&sumVerifier{}).Replay(context.Background(),
		readRecords(t, record(true, "def add(a, b):\n    return a + b\n"), drifted, legacy))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, m.EnvFingerprintMismatchCount)
	assert.Equal(t, current, m.EnvFingerprintCurrent)
}

func TestReplay_TargetLayout(t *testing.T) {
	ts := record(true, "export function add(a: number, b: number): number { return a + b; }\n")
	ts["language"] = "ts"
	ts["verifier_name"] = "ts_composite"
	legacyTS := record(true, "export function add(a: number, b: number): number { return a + b; }\n")
	delete(legacyTS, "language")
	legacyTS["verifier_name"] = "ts_composite"
	v := &sumVerifier{}

	_, _, err := newEngine(v, WithParallelism(1)).Replay(context.Background(),
		readRecords(t, record(true, "def add(a, b):\n    return a + b\n"), ts, legacyTS))
	require.NoError(t, err)
	require.Len(t, v.files, 3)
	assert.True(t, strings.HasSuffix(v.files[0], filepath.Join("event_1", "replay_candidate.py")), v.files[0])
	assert.True(t, strings.HasSuffix(v.files[1], filepath.Join("event_2", "src", "solution.ts")), v.files[1])
	assert.True(t, strings.HasSuffix(v.files[2], filepath.Join("event_3", "src", "solution.ts")), v.files[2])
	_, err = os.Stat(v.files[0])
	assert.True(t, os.IsNotExist(err), "scratch directory should be removed")
}

func TestReplay_ParallelismDoesNotChangeMetrics(t *testing.T) {
	var lines []map[string]any
	for i := 0; i < 12; i++ {
		code := "def add(a, b):\n    return a + b\n"
		if i%3 == 0 {
			code = "def add(a, b):\n    return a - b\n"
		}
		rec := record(i%2 == 0, code)
		rec["artifact_hash"] = strings.Repeat("a", i+1)
		lines = append(lines, rec)
	}
	records := readRecords(t, lines...)

	serial, serialCode, err := newEngine(&sumVerifier{}, WithParallelism(1)).Replay(context.Background(), records)
	require.NoError(t, err)
	parallel, parallelCode, err := newEngine(&sumVerifier{}, WithParallelism(6)).Replay(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, serialCode, parallelCode)
	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("metrics differ between serial and parallel replay (-serial +parallel):\n%s", diff)
	}
}

func TestReplay_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := newEngine(&sumVerifier{}).Replay(ctx, readRecords(t, record(true, "def add(a, b):\n    return a + b\n")))
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestPrint(t *testing.T) {
	m := Metrics{
		Records:                     3,
		ReplayEligible:              2,
		ReplayMatch:                 1,
		ReplayMatchRate:             50,
		UnreplayableLossy:           1,
		EnvFingerprintMismatchCount: 1,
		TopErrorSignature:           []SignatureCount{{ErrorSignature: "AssertionError:mismatch", Count: 2}},
		MismatchSamples:             []Mismatch{{Index: 2, RunID: "r1", TaskID: "add", LoggedPassed: true}},
	}
	var buf bytes.Buffer
	Print(&buf, m)
	out := buf.String()
	for _, want := range []string{
		"records=3\n",
		"replay_match=1/2 (50.00%)\n",
		"unreplayable_lossy=1\n",
		"warning=env_fingerprint_mismatch_detected\n",
		"      2  AssertionError:mismatch\n",
		"flaky_keys=none\n",
		"flaky_groups=none\n",
		"index=2 run_id=r1 task_id=add logged_passed=true replayed_passed=false\n",
	} {
		assert.Contains(t, out, want)
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "replay.json")
	m, _, err := newEngine(&sumVerifier{}).Replay(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, WriteJSON(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 100.0, decoded["replay_match_rate"])
	assert.Equal(t, []any{}, decoded["mismatch_samples"])
}
