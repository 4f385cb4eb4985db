// Package replay re-verifies logged candidates with verifiers rebuilt from
// the log and reports whether each outcome reproduces.
package replay

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/envfp"
	"github.com/lucasnoah/repairloop/internal/fileutil"
	"github.com/lucasnoah/repairloop/internal/verify"
)

const (
	maxSignatures = 20
	maxMismatches = 20
)

// SignatureCount is one entry of the failing-signature histogram.
type SignatureCount struct {
	ErrorSignature string `json:"error_signature"`
	Count          int    `json:"count"`
}

// FlakyGroup is a failure group whose replays disagreed with each other.
type FlakyGroup struct {
	Language            string `json:"language"`
	FailureType         string `json:"failure_type"`
	ErrorSignature      string `json:"error_signature"`
	VerifierStageFailed string `json:"verifier_stage_failed"`
}

// Mismatch is a record whose replay did not reproduce the logged outcome.
type Mismatch struct {
	Index          int    `json:"index"`
	RunID          string `json:"run_id"`
	TaskID         string `json:"task_id"`
	LoggedPassed   bool   `json:"logged_passed"`
	ReplayedPassed bool   `json:"replayed_passed"`
	Reason         string `json:"reason,omitempty"`
}

// Metrics summarizes one replay of a log.
type Metrics struct {
	Records                         int               `json:"records"`
	ReplayEligible                  int               `json:"replay_eligible"`
	ReplayMatch                     int               `json:"replay_match"`
	ReplayMatchRate                 float64           `json:"replay_match_rate"`
	UnreplayableLossy               int               `json:"unreplayable_lossy"`
	UnreplayableProposerMissingCode int               `json:"unreplayable_proposer_missing_code"`
	TimeoutRate                     float64           `json:"timeout_rate"`
	TopErrorSignature               []SignatureCount  `json:"top_error_signature"`
	FlakyKeys                       [][]string        `json:"flaky_keys"`
	FlakyGroups                     []FlakyGroup      `json:"flaky_groups"`
	MismatchSamples                 []Mismatch        `json:"mismatch_samples"`
	EnvFingerprintCurrent           envfp.Fingerprint `json:"env_fingerprint_current"`
	EnvFingerprintMismatchCount     int               `json:"env_fingerprint_mismatch_count"`
}

// Builder rebuilds the verifier that produced a record.
type Builder func(verify.Recorded) (verify.Verifier, error)

// Engine replays audit records.
type Engine struct {
	parallel    int
	build       Builder
	fingerprint func(context.Context) envfp.Fingerprint
	workDir     string
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds how many records are verified at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

// WithToolchain rebuilds verifiers against tc.
func WithToolchain(tc verify.Toolchain) Option {
	return func(e *Engine) {
		e.build = func(r verify.Recorded) (verify.Verifier, error) { return verify.FromRecord(r, tc) }
	}
}

// WithBuilder replaces the verifier rebuilder.
func WithBuilder(b Builder) Option {
	return func(e *Engine) { e.build = b }
}

// WithFingerprint replaces the probe of the current environment.
func WithFingerprint(fn func(context.Context) envfp.Fingerprint) Option {
	return func(e *Engine) { e.fingerprint = fn }
}

// WithWorkDir sets the parent of the scratch directory. The default is the
// system temp dir.
func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		parallel: runtime.NumCPU(),
		fingerprint: func(ctx context.Context) envfp.Fingerprint {
			return envfp.Capture(ctx, envfp.Prober{})
		},
		logger: zap.NewNop(),
	}
	WithToolchain(verify.Toolchain{})(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type job struct {
	index  int
	record audit.Record
	lang   string
}

type outcome struct {
	passed   bool
	timedOut bool
	rebuilt  bool
	reason   string
}

// Replay re-verifies every eligible record and returns the metrics with an
// exit code: 1 when any record failed to reproduce, otherwise 0. The error
// is reserved for scratch-space failures and cancellation.
func (e *Engine) Replay(ctx context.Context, records []audit.Record) (Metrics, int, error) {
	m := Metrics{
		ReplayMatchRate:   100,
		TopErrorSignature: []SignatureCount{},
		FlakyKeys:         [][]string{},
		FlakyGroups:       []FlakyGroup{},
		MismatchSamples:   []Mismatch{},
	}
	if len(records) == 0 {
		return m, 0, nil
	}
	m.EnvFingerprintCurrent = e.fingerprint(ctx)

	var jobs []job
	var mismatches []Mismatch
	signatures := map[string]int{}
	for i, rec := range records {
		index := i + 1
		ev := rec.Event
		m.Records++
		if _, ok := rec.Raw["env_fingerprint"].(map[string]any); ok && !ev.EnvFingerprint.Equal(m.EnvFingerprintCurrent) {
			m.EnvFingerprintMismatchCount++
		}
		if !ev.Passed {
			sig := audit.Deref(ev.ErrorSignature)
			if sig == "" {
				sig = "UNKNOWN"
			}
			signatures[sig]++
		}

		switch {
		case rec.Raw["payload_is_lossy"] == true:
			m.UnreplayableLossy++
		case ev.ProposerUsed && !rec.HasCode():
			m.UnreplayableProposerMissingCode++
		case !rec.HasPayload() || !rec.HasCode():
			mismatches = append(mismatches, Mismatch{
				Index: index, RunID: ev.RunID, TaskID: ev.TaskID,
				LoggedPassed: ev.Passed, Reason: "record has no task payload or code",
			})
		default:
			jobs = append(jobs, job{index: index, record: rec, lang: language(ev)})
		}
	}

	outcomes, err := e.run(ctx, jobs)
	if err != nil {
		return m, 1, err
	}

	timeouts := 0
	replays := map[string]map[bool]bool{}
	var replayKeys [][]string
	groups := map[FlakyGroup]map[bool]bool{}
	for i, j := range jobs {
		ev := j.record.Event
		out := outcomes[i]
		m.ReplayEligible++
		if out.timedOut {
			timeouts++
		}
		if !out.rebuilt {
			mismatches = append(mismatches, Mismatch{
				Index: j.index, RunID: ev.RunID, TaskID: ev.TaskID,
				LoggedPassed: ev.Passed, Reason: out.reason,
			})
			continue
		}
		if out.passed == ev.Passed {
			m.ReplayMatch++
		} else {
			mismatches = append(mismatches, Mismatch{
				Index: j.index, RunID: ev.RunID, TaskID: ev.TaskID,
				LoggedPassed: ev.Passed, ReplayedPassed: out.passed, Reason: out.reason,
			})
		}

		key := []string{j.lang, ev.TaskHash, ev.ArtifactHash, ev.VerifierName, ev.VerifierVersion}
		joined := strings.Join(key, "\x00")
		if replays[joined] == nil {
			replays[joined] = map[bool]bool{}
			replayKeys = append(replayKeys, key)
		}
		replays[joined][out.passed] = true

		group := FlakyGroup{
			Language:            j.lang,
			FailureType:         audit.Deref(ev.FailureType),
			ErrorSignature:      audit.Deref(ev.ErrorSignature),
			VerifierStageFailed: audit.Deref(ev.VerifierStageFailed),
		}
		if groups[group] == nil {
			groups[group] = map[bool]bool{}
		}
		groups[group][out.passed] = true
	}

	if m.ReplayEligible > 0 {
		m.ReplayMatchRate = round4(float64(m.ReplayMatch) / float64(m.ReplayEligible) * 100)
		m.TimeoutRate = round4(float64(timeouts) / float64(m.ReplayEligible) * 100)
	}
	m.TopErrorSignature = topSignatures(signatures)
	for _, key := range replayKeys {
		if len(replays[strings.Join(key, "\x00")]) > 1 {
			m.FlakyKeys = append(m.FlakyKeys, key)
		}
	}
	sort.Slice(m.FlakyKeys, func(a, b int) bool {
		return strings.Join(m.FlakyKeys[a], "\x00") < strings.Join(m.FlakyKeys[b], "\x00")
	})
	for g, seen := range groups {
		if len(seen) > 1 {
			m.FlakyGroups = append(m.FlakyGroups, g)
		}
	}
	sort.Slice(m.FlakyGroups, func(a, b int) bool {
		x, y := m.FlakyGroups[a], m.FlakyGroups[b]
		if x.Language != y.Language {
			return x.Language < y.Language
		}
		if x.FailureType != y.FailureType {
			return x.FailureType < y.FailureType
		}
		if x.ErrorSignature != y.ErrorSignature {
			return x.ErrorSignature < y.ErrorSignature
		}
		return x.VerifierStageFailed < y.VerifierStageFailed
	})
	sort.SliceStable(mismatches, func(a, b int) bool { return mismatches[a].Index < mismatches[b].Index })
	if len(mismatches) > maxMismatches {
		m.MismatchSamples = mismatches[:maxMismatches]
	} else if len(mismatches) > 0 {
		m.MismatchSamples = mismatches
	}

	e.logger.Info("replay finished",
		zap.Int("records", m.Records),
		zap.Int("eligible", m.ReplayEligible),
		zap.Int("matched", m.ReplayMatch),
		zap.Int("mismatches", len(mismatches)))
	if len(mismatches) > 0 {
		return m, 1, nil
	}
	return m, 0, nil
}

// run verifies the jobs with bounded parallelism. Each job gets its own
// directory so concurrent candidates never share a file.
func (e *Engine) run(ctx context.Context, jobs []job) ([]outcome, error) {
	outcomes := make([]outcome, len(jobs))
	if len(jobs) == 0 {
		return outcomes, nil
	}
	scratch, err := os.MkdirTemp(e.workDir, "repairloop-replay-")
	if err != nil {
		return nil, fmt.Errorf("create replay directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := e.replayOne(gctx, scratch, j)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (e *Engine) replayOne(ctx context.Context, scratch string, j job) (outcome, error) {
	ev := j.record.Event
	target := filepath.Join(scratch, fmt.Sprintf("event_%d", j.index), "replay_candidate.py")
	if j.lang == "ts" {
		target = filepath.Join(scratch, fmt.Sprintf("event_%d", j.index), "src", "solution.ts")
	}
	if err := fileutil.WriteFile(target, []byte(ev.Code)); err != nil {
		return outcome{}, fmt.Errorf("write replay target: %w", err)
	}

	v, err := e.build(verify.Recorded{
		Language:       j.lang,
		VerifierName:   ev.VerifierName,
		VerifierConfig: verify.Config(ev.VerifierConfig),
		TaskPayload:    verify.Payload(ev.TaskPayload),
	})
	if err != nil {
		e.logger.Warn("cannot rebuild verifier", zap.Int("index", j.index), zap.Error(err))
		return outcome{reason: err.Error()}, nil
	}
	res := v.Verify(ctx, target)
	e.logger.Debug("record replayed",
		zap.Int("index", j.index),
		zap.String("verifier", v.Name()),
		zap.Bool("logged_passed", ev.Passed),
		zap.Bool("replayed_passed", res.Passed))
	out := outcome{
		rebuilt:  true,
		passed:   res.Passed,
		timedOut: res.ErrorType == "TimeoutError" || res.StageFailed == verify.StageTimeout,
	}
	if !res.Passed {
		out.reason = res.Error
	}
	return out, nil
}

// language falls back to the verifier name for records written before the
// language field existed.
func language(ev audit.Event) string {
	if ev.Language != "" {
		return ev.Language
	}
	if strings.HasPrefix(ev.VerifierName, "ts_") {
		return "ts"
	}
	return "py"
}

func topSignatures(counts map[string]int) []SignatureCount {
	out := make([]SignatureCount, 0, len(counts))
	for sig, n := range counts {
		out = append(out, SignatureCount{ErrorSignature: sig, Count: n})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].ErrorSignature < out[b].ErrorSignature
	})
	if len(out) > maxSignatures {
		out = out[:maxSignatures]
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
