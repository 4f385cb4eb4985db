package envfp

import (
	"context"
	"errors"
	"testing"

	"github.com/lucasnoah/repairloop/internal/checks"
)

// fakeRunner answers probes by binary name.
type fakeRunner struct {
	stdout map[string]string
	stderr map[string]string
	exit   map[string]int
	broken map[string]bool
	hang   map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, c checks.Command) (string, string, int, error) {
	if f.hang[c.Name] {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}
	if f.broken[c.Name] {
		return "", "", -1, errors.New("executable file not found in $PATH")
	}
	return f.stdout[c.Name], f.stderr[c.Name], f.exit[c.Name], nil
}

func TestCapture(t *testing.T) {
	commit := "0123456789abcdef0123456789abcdef01234567"
	r := &fakeRunner{
		stdout: map[string]string{"python3": "Python 3.12.1\n", "node": "v20.11.0\n", "tsc": "Version 5.4.2\n", "git": commit + "\n"},
	}
	fp := Capture(context.Background(), Prober{Runner: r})

	if fp.PythonVersion != "3.12.1" {
		t.Errorf("expected python 3.12.1, got %q", fp.PythonVersion)
	}
	if fp.NodeVersion != "v20.11.0" {
		t.Errorf("expected node v20.11.0, got %q", fp.NodeVersion)
	}
	if fp.TSCVersion != "Version 5.4.2" {
		t.Errorf("expected tsc version line, got %q", fp.TSCVersion)
	}
	if fp.GitCommit == nil || *fp.GitCommit != commit {
		t.Errorf("expected commit %s, got %v", commit, fp.GitCommit)
	}
	if fp.Platform == "" || fp.RuntimeVersion == "" {
		t.Errorf("expected platform and runtime, got %+v", fp)
	}
}

func TestCapture_Degrades(t *testing.T) {
	r := &fakeRunner{
		stdout: map[string]string{"git": "not-a-commit"},
		stderr: map[string]string{"python3": "Python 2.7.18"},
		exit:   map[string]int{"tsc": 1},
		broken: map[string]bool{"node": true},
	}
	fp := Capture(context.Background(), Prober{Runner: r})

	if fp.PythonVersion != "2.7.18" {
		t.Errorf("expected version from stderr, got %q", fp.PythonVersion)
	}
	if fp.NodeVersion != Unknown {
		t.Errorf("expected unknown node, got %q", fp.NodeVersion)
	}
	if fp.TSCVersion != Unknown {
		t.Errorf("expected unknown tsc, got %q", fp.TSCVersion)
	}
	if fp.GitCommit != nil {
		t.Errorf("expected nil commit, got %q", *fp.GitCommit)
	}
}

func TestCapture_ProbeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the git probe budget")
	}
	r := &fakeRunner{hang: map[string]bool{"git": true}}
	fp := Capture(context.Background(), Prober{Runner: r})
	if fp.GitCommit != nil {
		t.Errorf("expected nil commit after timeout, got %q", *fp.GitCommit)
	}
}

func TestEqual(t *testing.T) {
	a, b := "a", "a"
	c := "c"
	base := Fingerprint{PythonVersion: "3.12", NodeVersion: "v20", TSCVersion: Unknown, Platform: "linux-amd64", RuntimeVersion: "go1.25"}

	same := base
	if !base.Equal(same) {
		t.Error("expected identical fingerprints to be equal")
	}
	x, y := base, base
	x.GitCommit, y.GitCommit = &a, &b
	if !x.Equal(y) {
		t.Error("expected commits compared by value")
	}
	y.GitCommit = &c
	if x.Equal(y) {
		t.Error("expected different commits to differ")
	}
	y.GitCommit = nil
	if x.Equal(y) {
		t.Error("expected nil and set commit to differ")
	}
	drift := base
	drift.NodeVersion = "v22"
	if base.Equal(drift) {
		t.Error("expected node drift to be detected")
	}
	if !(Fingerprint{}).IsZero() || base.IsZero() {
		t.Error("IsZero mismatch")
	}
}
