package cli

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/repairloop/internal/agent"
	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/classify"
	"github.com/lucasnoah/repairloop/internal/config"
	"github.com/lucasnoah/repairloop/internal/db"
	"github.com/lucasnoah/repairloop/internal/task"
	"github.com/lucasnoah/repairloop/internal/verify"
)

var runCmd = &cobra.Command{
	Use:   "run [task-file]",
	Short: "Run every task in a task file through the repair loop",
	Long: `Loads one task or a list of tasks from a JSON or YAML file and runs each
through verify, patch and (when enabled) propose. Every verification is
appended to the audit log. Exits non-zero when any task does not pass.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		r := cfg.Repairloop
		if f, _ := cmd.Flags().GetString("log"); f != "" {
			r.AuditLog = f
		}
		if w, _ := cmd.Flags().GetString("workdir"); w != "" {
			r.Workdir = w
		}

		specs, err := task.LoadSpecs(args[0])
		if err != nil {
			return err
		}

		auditLog, err := audit.NewLogger(r.AuditLog)
		if err != nil {
			return err
		}
		var sink audit.Sink = auditLog
		var index *db.DB
		if r.Index.Enabled || r.Proposer.BudgetStore == config.StoreSQLite {
			if index, err = openIndex(r); err != nil {
				return err
			}
			defer index.Close()
		}
		if r.Index.Enabled {
			sink = audit.Tee(auditLog, &audit.IndexSink{DB: index})
		}

		ctx := cmd.Context()
		rt, closeProposer, err := proposerRuntime(ctx, r, index, logger)
		if err != nil {
			return err
		}
		defer closeProposer()

		opts := []agent.Option{agent.WithLogger(logger), agent.WithFingerprint(fingerprinter(r))}
		if rt != nil {
			opts = append(opts, agent.WithProposer(rt))
		}
		loop := agent.New(opts...)
		tc := toolchain(r, logger)
		w := cmd.OutOrStdout()

		failed := 0
		for i := range specs {
			spec := &specs[i]
			v, err := verify.ForSpec(spec, timeouts(r.Verifier), tc)
			if err != nil {
				return err
			}
			tk := spec.Task(filepath.Join(r.Workdir, spec.TaskID))
			res, err := loop.Run(ctx, tk, v, sink)
			if err != nil {
				return fmt.Errorf("task %s: %w", spec.TaskID, err)
			}
			if res.Done {
				fmt.Fprintf(w, "[%s] %s attempts_used=%d run_id=%s\n",
					color.GreenString("PASS"), spec.TaskID, res.AttemptsUsed, res.RunID)
				continue
			}
			failed++
			fmt.Fprintf(w, "[%s] %s attempts_used=%d %s\n",
				color.RedString("FAIL"), spec.TaskID, res.AttemptsUsed, classify.Short(res.LastError, 160))
			logger.Debug("task failed", zap.String("task_id", spec.TaskID), zap.String("last_error", res.LastError))
		}

		fmt.Fprintf(w, "audit_log=%s\n", auditLog.Path())
		if failed > 0 {
			return fmt.Errorf("%d of %d task(s) failed", failed, len(specs))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("log", "", "audit log path (overrides config)")
	runCmd.Flags().String("workdir", "", "directory candidates are written under (overrides config)")
}
