// Package verify decides pass/fail for one candidate source file against a
// task's test cases. Each language has a staged pipeline; every stage runs
// untrusted code in a separate, time-boxed process.
package verify

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a verifier cannot be built from a
// task payload.
var ErrMalformedPayload = errors.New("malformed task payload")

// Stage names reported in Result.StageFailed.
const (
	StageSyntax   = "syntax"
	StageUnitTest = "unit_test"
	StageTimeout  = "timeout"
	StageTSC      = "tsc"
	StageBuild    = "build"
)

// Payload is the JSON-serializable snapshot of a verifier's test cases.
type Payload = map[string]any

// Config is the JSON-serializable construction config recorded for replay.
type Config = map[string]any

// Result is the outcome of one verification. A passing result never carries
// a failed stage.
type Result struct {
	Passed          bool   `json:"passed"`
	Error           string `json:"error,omitempty"`
	ErrorType       string `json:"error_type,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	VerifierName    string `json:"verifier_name"`
	VerifierVersion string `json:"verifier_version"`
	StageFailed     string `json:"verifier_stage_failed,omitempty"`
}

// Verifier is implemented by every stage and every composite pipeline.
type Verifier interface {
	Name() string
	Version() string
	// Verify never returns an error: every failure, including a broken
	// toolchain, is reported in the Result.
	Verify(ctx context.Context, sourceFile string) Result
	// TaskPayloadSnapshot returns the test cases as plain JSON and whether
	// any value had to be summarized to get there.
	TaskPayloadSnapshot() (Payload, bool)
	ReplayConfig() Config
}

type identity struct {
	name    string
	version string
}

func (id identity) Name() string    { return id.name }
func (id identity) Version() string { return id.version }

func (id identity) pass() Result {
	return Result{Passed: true, VerifierName: id.name, VerifierVersion: id.version}
}

func (id identity) fail(errorType, message, stage string) Result {
	return Result{
		Passed:          false,
		Error:           fmt.Sprintf("%s: %s", errorType, message),
		ErrorType:       errorType,
		ErrorMessage:    message,
		VerifierName:    id.name,
		VerifierVersion: id.version,
		StageFailed:     stage,
	}
}

// rewrap reports an inner stage failure under the composite's identity. The
// inner stage name wins; stageDefault only fills a missing one.
func (id identity) rewrap(inner Result, stageDefault string) Result {
	stage := inner.StageFailed
	if stage == "" {
		stage = stageDefault
	}
	return Result{
		Passed:          false,
		Error:           inner.Error,
		ErrorType:       inner.ErrorType,
		ErrorMessage:    inner.ErrorMessage,
		VerifierName:    id.name,
		VerifierVersion: id.version,
		StageFailed:     stage,
	}
}

// stage is one step of a composite pipeline.
type stage struct {
	name     string
	verifier Verifier
}

// runStages runs stages in order and stops at the first failure.
func (id identity) runStages(ctx context.Context, sourceFile string, stages []stage) Result {
	for _, s := range stages {
		r := s.verifier.Verify(ctx, sourceFile)
		if !r.Passed {
			return id.rewrap(r, s.name)
		}
	}
	return id.pass()
}

func secondsOf(cfg Config, key string, fallback float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float64(v)
		}
	}
	return fallback
}
