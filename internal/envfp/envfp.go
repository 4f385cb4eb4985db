// Package envfp captures the toolchain fingerprint recorded with every audit
// event, so a replay can tell when it runs against different tools.
package envfp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/lucasnoah/repairloop/internal/checks"
)

// Unknown stands in for a version that could not be probed.
const Unknown = "unknown"

const (
	probeTimeout = 2 * time.Second
	gitTimeout   = 1 * time.Second
)

// Fingerprint identifies the toolchain a verification ran against.
type Fingerprint struct {
	PythonVersion  string  `json:"python_version"`
	NodeVersion    string  `json:"node_version"`
	TSCVersion     string  `json:"tsc_version"`
	Platform       string  `json:"platform"`
	GitCommit      *string `json:"git_commit"`
	RuntimeVersion string  `json:"runtime_version"`
}

// Equal reports whether two fingerprints describe the same toolchain.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if (f.GitCommit == nil) != (o.GitCommit == nil) {
		return false
	}
	if f.GitCommit != nil && *f.GitCommit != *o.GitCommit {
		return false
	}
	return f.PythonVersion == o.PythonVersion &&
		f.NodeVersion == o.NodeVersion &&
		f.TSCVersion == o.TSCVersion &&
		f.Platform == o.Platform &&
		f.RuntimeVersion == o.RuntimeVersion
}

// IsZero reports a fingerprint that was never captured.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Prober names the binaries to ask for versions. Empty names use the
// defaults; Dir is where git is asked for the commit.
type Prober struct {
	Python string
	Node   string
	TSC    string
	Git    string
	Dir    string
	Runner checks.CommandRunner
}

// Capture probes every tool. Probes never fail the capture: a missing tool,
// a non-zero exit or a probe running past its budget yields Unknown.
func Capture(ctx context.Context, p Prober) Fingerprint {
	runner := checks.NewRunner(p.Runner)
	probe := func(name string, timeout time.Duration, args ...string) string {
		res, err := runner.Run(ctx, checks.Command{Name: name, Args: args, Dir: p.Dir, Timeout: timeout})
		if err != nil || !res.Passed() {
			return ""
		}
		out := strings.TrimSpace(res.Stdout)
		if out == "" {
			out = strings.TrimSpace(res.Stderr)
		}
		return out
	}
	orUnknown := func(s string) string {
		if s == "" {
			return Unknown
		}
		return s
	}

	fp := Fingerprint{
		PythonVersion:  orUnknown(strings.TrimPrefix(probe(or(p.Python, "python3"), probeTimeout, "--version"), "Python ")),
		NodeVersion:    orUnknown(probe(or(p.Node, "node"), probeTimeout, "-v")),
		TSCVersion:     orUnknown(probe(or(p.TSC, "tsc"), probeTimeout, "-v")),
		Platform:       fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH),
		RuntimeVersion: runtime.Version(),
	}
	if commit := probe(or(p.Git, "git"), gitTimeout, "rev-parse", "HEAD"); len(commit) == 40 {
		fp.GitCommit = &commit
	}
	return fp
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
