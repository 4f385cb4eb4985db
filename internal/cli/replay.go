package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/replay"
)

var replayCmd = &cobra.Command{
	Use:   "replay [log-file]",
	Short: "Re-verify logged candidates and check the outcomes reproduce",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		r := cfg.Repairloop

		records, err := audit.ReadFile(args[0])
		if err != nil {
			return err
		}
		problems, err := audit.ValidateRecords(records)
		if err != nil {
			return err
		}
		for _, p := range problems {
			logger.Warn("record does not match the event schema", zap.Int("line", p.Line), zap.String("error", p.Err))
		}

		parallel, _ := cmd.Flags().GetInt("parallel")
		engine := replay.New(
			replay.WithToolchain(toolchain(r, logger)),
			replay.WithParallelism(parallel),
			replay.WithFingerprint(fingerprinter(r)),
			replay.WithLogger(logger))
		m, code, err := engine.Replay(cmd.Context(), records)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		replay.Print(w, m)
		if out, _ := cmd.Flags().GetString("json-out"); out != "" {
			if err := replay.WriteJSON(out, m); err != nil {
				return err
			}
			fmt.Fprintf(w, "json_out=%s\n", out)
		}
		if code != 0 {
			fmt.Fprintf(w, "[%s] replay_match=%d/%d\n", color.RedString("FAIL"), m.ReplayMatch, m.ReplayEligible)
			return fmt.Errorf("replay mismatch")
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().String("json-out", "", "write metrics JSON to this path")
	replayCmd.Flags().Int("parallel", 0, "records verified at once (default: number of CPUs)")
}
