package verify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucasnoah/repairloop/internal/task"
)

// Timeouts are the per-language stage budgets used when building a pipeline
// for a task spec.
type Timeouts struct {
	Python time.Duration
	TS     time.Duration
	TSC    time.Duration
}

// ForSpec builds the pipeline for a task spec's language.
func ForSpec(spec *task.Spec, timeouts Timeouts, tc Toolchain) (Verifier, error) {
	if spec.FunctionName == "" {
		return nil, fmt.Errorf("%w: function_name is required", ErrMalformedPayload)
	}
	if spec.Language == task.LangTypeScript {
		return NewTSCompositeVerifier(spec.FunctionName, spec.Testcases, spec.Signature, timeouts.TS, timeouts.TSC, tc), nil
	}
	cases := make([]Case, 0, len(spec.Testcases))
	for _, c := range spec.Testcases {
		cases = append(cases, Case{Args: c.Inputs, Expected: c.Expected})
	}
	return NewCompositeVerifier(spec.FunctionName, cases, timeouts.Python, tc), nil
}

// Recorded is what an audit record retains about the verifier that produced
// it.
type Recorded struct {
	Language       string
	VerifierName   string
	VerifierConfig Config
	TaskPayload    Payload
}

// FromRecord rebuilds the verifier kind named in a record from its logged
// config and payload. The logged payload is already canonical JSON, so the
// rebuilt verifier's snapshot equals it.
func FromRecord(r Recorded, tc Toolchain) (Verifier, error) {
	if r.TaskPayload == nil {
		return nil, fmt.Errorf("%w: no task payload", ErrMalformedPayload)
	}
	if r.Language == task.LangTypeScript || r.VerifierName == "ts_composite" {
		var p struct {
			FunctionName string          `json:"function_name"`
			Signature    *string         `json:"signature"`
			Testcases    []task.Testcase `json:"testcases"`
		}
		if err := decodePayload(r.TaskPayload, &p); err != nil {
			return nil, err
		}
		if p.FunctionName == "" {
			return nil, fmt.Errorf("%w: function_name is required", ErrMalformedPayload)
		}
		if v, ok := r.VerifierConfig["use_tsc"].(bool); ok {
			tc.UseTSC = v
		}
		signature := ""
		if p.Signature != nil {
			signature = *p.Signature
		}
		return NewTSCompositeVerifier(p.FunctionName, p.Testcases, signature,
			durationOf(secondsOf(r.VerifierConfig, "timeout_seconds", seconds(DefaultTSTimeout))),
			durationOf(secondsOf(r.VerifierConfig, "tsc_timeout_seconds", seconds(DefaultTSCTimeout))),
			tc), nil
	}

	var p struct {
		FunctionName string `json:"function_name"`
		Cases        []struct {
			Args     []any `json:"args"`
			Expected any   `json:"expected"`
		} `json:"cases"`
	}
	if err := decodePayload(r.TaskPayload, &p); err != nil {
		return nil, err
	}
	if p.FunctionName == "" {
		return nil, fmt.Errorf("%w: function_name is required", ErrMalformedPayload)
	}
	cases := make([]Case, 0, len(p.Cases))
	for _, c := range p.Cases {
		cases = append(cases, Case{Args: c.Args, Expected: c.Expected})
	}
	timeout := durationOf(secondsOf(r.VerifierConfig, "timeout_seconds", seconds(DefaultPyTimeout)))
	if r.VerifierName == "composite_verifier" {
		return NewCompositeVerifier(p.FunctionName, cases, timeout, tc), nil
	}
	return NewFunctionVerifier(p.FunctionName, cases, timeout, tc), nil
}

func decodePayload(payload Payload, v any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
