package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/repairloop/internal/config"
	"github.com/lucasnoah/repairloop/internal/db"
	"github.com/lucasnoah/repairloop/internal/envfp"
	"github.com/lucasnoah/repairloop/internal/propose"
	"github.com/lucasnoah/repairloop/internal/verify"
)

func toolchain(r config.Repairloop, log *zap.Logger) verify.Toolchain {
	return verify.Toolchain{
		Python:      r.Python,
		Node:        r.Node,
		TSC:         r.TSC,
		UseTSC:      r.UseTSC,
		MaxOutputKB: r.Verifier.MaxOutputKB,
		Logger:      log,
	}
}

func timeouts(v config.VerifierConfig) verify.Timeouts {
	return verify.Timeouts{
		Python: config.Duration(v.PyTimeout, verify.DefaultPyTimeout),
		TS:     config.Duration(v.TSTimeout, verify.DefaultTSTimeout),
		TSC:    config.Duration(v.TSCTimeout, verify.DefaultTSCTimeout),
	}
}

func fingerprinter(r config.Repairloop) func(context.Context) envfp.Fingerprint {
	p := envfp.Prober{Python: r.Python, Node: r.Node, TSC: r.TSC}
	return func(ctx context.Context) envfp.Fingerprint { return envfp.Capture(ctx, p) }
}

// openIndex opens and migrates the SQLite index named in the config.
func openIndex(r config.Repairloop) (*db.DB, error) {
	path := config.ExpandPath(r.Index.Path)
	if path == "" {
		var err error
		if path, err = db.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return d, nil
}

// proposerPolicy reads the standalone policy file when one is named and
// otherwise maps the config section.
func proposerPolicy(p config.ProposerConfig) (propose.Policy, error) {
	if p.PolicyFile != "" {
		return propose.LoadPolicy(p.PolicyFile)
	}
	only := true
	if p.OnlyForUncoveredSignatures != nil {
		only = *p.OnlyForUncoveredSignatures
	}
	return propose.Policy{
		Enabled:                    p.Enabled,
		AllowedLanguages:           p.AllowedLanguages,
		MaxCallsPerTask:            p.MaxCallsPerTask,
		MaxCallsPerDay:             p.MaxCallsPerDay,
		MaxTotalSecondsPerDay:      p.MaxTotalSecondsPerDay,
		OnlyForUncoveredSignatures: only,
		UncoveredSource:            p.UncoveredSource,
		Timeout:                    config.Duration(p.Timeout, 2*time.Second),
	}, nil
}

// proposerRuntime builds the runtime for an enabled proposer, or returns nil
// when proposals are off. index is only used by the sqlite budget store.
func proposerRuntime(ctx context.Context, r config.Repairloop, index *db.DB, log *zap.Logger) (*propose.Runtime, func(), error) {
	noop := func() {}
	pol, err := proposerPolicy(r.Proposer)
	if err != nil {
		return nil, noop, err
	}
	if !pol.Enabled {
		return nil, noop, nil
	}

	var proposer propose.Proposer
	hosted := propose.HostedConfig{Model: r.Proposer.Model, TemplateDir: r.Proposer.TemplateDir, Timeout: pol.Timeout}
	switch r.Proposer.Kind {
	case config.KindAnthropic:
		p, err := propose.NewAnthropicProposer(hosted)
		if err != nil {
			return nil, noop, err
		}
		proposer = p
	case config.KindGemini:
		p, err := propose.NewGeminiProposer(ctx, hosted)
		if err != nil {
			return nil, noop, err
		}
		proposer = p
	default:
		proposer = &propose.CommandProposer{Command: r.Proposer.Command}
	}

	var store propose.BudgetStore
	closeStore := noop
	switch r.Proposer.BudgetStore {
	case config.StoreSQLite:
		if index == nil {
			return nil, noop, fmt.Errorf("sqlite budget store needs the index database")
		}
		store = &propose.SQLiteBudgetStore{DB: index}
	case config.StorePostgres:
		pg, err := propose.NewPostgresBudgetStore(ctx, r.Proposer.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		store, closeStore = pg, pg.Close
	default:
		store = propose.NewBudgetState()
	}

	uncovered, err := propose.LoadUncovered(pol.UncoveredSource)
	if err != nil {
		closeStore()
		return nil, noop, err
	}
	rt := propose.NewRuntime(pol, proposer,
		propose.WithBudgetStore(store),
		propose.WithUncovered(uncovered),
		propose.WithLogger(log))
	return rt, closeStore, nil
}
