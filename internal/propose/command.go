package propose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/lucasnoah/repairloop/internal/checks"
)

// CommandProposer runs an external program. The proposal context is written
// to its stdin as JSON and the proposed code is read from stdout.
type CommandProposer struct {
	Command string // argv in shell quoting; no shell is run
	Runner  checks.CommandRunner
}

func (p *CommandProposer) ID() string { return "command_proposer" }

func (p *CommandProposer) Propose(ctx context.Context, pc Context) (*Result, error) {
	argv, err := shellquote.Split(strings.TrimSpace(p.Command))
	if err != nil {
		return nil, fmt.Errorf("parse proposer command: %w", err)
	}
	if len(argv) == 0 {
		return nil, nil
	}
	input, err := json.Marshal(pc.Map())
	if err != nil {
		return nil, fmt.Errorf("encode proposal context: %w", err)
	}

	timeout := checks.DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	res, err := checks.NewRunner(p.Runner).Run(ctx, checks.Command{
		Name:    argv[0],
		Args:    argv[1:],
		Stdin:   input,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return nil, fmt.Errorf("proposer command %s", res.Summary)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("proposer command exit code %d: %s", res.ExitCode,
			checks.TruncateHead(strings.TrimSpace(res.Stderr), MaxStderrBytes))
	}
	code := ExtractCode(res.Stdout, pc.Language)
	if code == "" {
		return nil, nil
	}
	return NewResult(p.ID(), code, pc), nil
}
