package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasnoah/repairloop/internal/checks"
	"go.uber.org/zap"
)

// Default stage budgets.
const (
	DefaultPyTimeout     = 1 * time.Second
	DefaultTSTimeout     = 2 * time.Second
	DefaultTSCTimeout    = 20 * time.Second
	DefaultSyntaxTimeout = 10 * time.Second
	DefaultMaxOutputKB   = 32
)

// Toolchain locates the external interpreters and compilers a pipeline runs.
type Toolchain struct {
	Python      string
	Node        string
	TSC         string
	UseTSC      bool // run the real compiler instead of the offline checks
	MaxOutputKB int
	Runner      checks.CommandRunner
	Logger      *zap.Logger
}

func (t Toolchain) withDefaults() Toolchain {
	if t.Python == "" {
		t.Python = "python3"
	}
	if t.Node == "" {
		t.Node = "node"
	}
	if t.TSC == "" {
		t.TSC = "tsc"
	}
	if t.MaxOutputKB <= 0 {
		t.MaxOutputKB = DefaultMaxOutputKB
	}
	if t.Runner == nil {
		t.Runner = &checks.ExecRunner{}
	}
	if t.Logger == nil {
		t.Logger = zap.NewNop()
	}
	return t
}

func (t Toolchain) run(ctx context.Context, c checks.Command) (*checks.Result, error) {
	res, err := checks.NewRunner(t.Runner).Run(ctx, c)
	if err != nil {
		t.Logger.Debug("subprocess launch failed", zap.String("command", c.String()), zap.Error(err))
		return nil, err
	}
	t.Logger.Debug("subprocess finished",
		zap.String("command", c.Name),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int("duration_ms", res.DurationMs),
	)
	return res, nil
}

func (t Toolchain) truncate(s string) string {
	return checks.TruncateHead(s, t.MaxOutputKB*1024)
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func durationOf(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func exceeded(d time.Duration) string {
	return fmt.Sprintf("exceeded %.3fs", d.Seconds())
}
