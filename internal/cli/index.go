package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/repairloop/internal/analytics"
	"github.com/lucasnoah/repairloop/internal/audit"
	"github.com/lucasnoah/repairloop/internal/db"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the SQLite event index",
}

var indexImportCmd = &cobra.Command{
	Use:   "import [log-file]",
	Short: "Mirror a JSONL audit log into the index (idempotent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		records, err := audit.ReadFile(args[0])
		if err != nil {
			return err
		}
		index, err := openIndex(cfg.Repairloop)
		if err != nil {
			return err
		}
		defer index.Close()

		inserted, skipped, err := audit.Import(cmd.Context(), index, records)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "inserted=%d skipped=%d index=%s\n", inserted, skipped, index.Path())
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event counts in the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		index, err := openIndex(cfg.Repairloop)
		if err != nil {
			return err
		}
		defer index.Close()

		n, err := index.CountEvents(cmd.Context())
		if err != nil {
			return err
		}
		outcome, err := analytics.QueryOutcome(index, "")
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "index=%s\n", index.Path())
		fmt.Fprintf(w, "events=%d runs=%d solved_runs=%d\n", n, outcome.Runs, outcome.SolvedRuns)
		return nil
	},
}

var indexEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List indexed events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		index, err := openIndex(cfg.Repairloop)
		if err != nil {
			return err
		}
		defer index.Close()

		var f db.EventFilter
		f.RunID, _ = cmd.Flags().GetString("run")
		f.TaskID, _ = cmd.Flags().GetString("task")
		f.Language, _ = cmd.Flags().GetString("lang")
		f.Failed, _ = cmd.Flags().GetBool("failed")
		f.Limit, _ = cmd.Flags().GetInt("limit")

		events, err := index.ListEvents(cmd.Context(), f)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range events {
			mark := color.GreenString("PASS")
			detail := ""
			if !e.Passed {
				mark = color.RedString("FAIL")
				detail = " " + audit.Deref(e.VerifierStageFailed) + " " + audit.Deref(e.ErrorSignature)
			}
			source := ""
			switch {
			case e.PatchApplied:
				source = " patch=" + audit.Deref(e.PatcherID)
			case e.ProposerUsed:
				source = " proposer=" + audit.Deref(e.ProposerID)
			}
			fmt.Fprintf(w, "[%s] %s #%d %s/%s%s%s\n", mark, e.RunID, e.AttemptIndex, e.Language, e.TaskID, source, detail)
		}
		return nil
	},
}

var indexResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the index (destructive!)",
	Long: `Drops the indexed events and the proposer budget ledger. The JSONL audit
logs are untouched and can be imported again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		index, err := openIndex(cfg.Repairloop)
		if err != nil {
			return err
		}
		defer index.Close()

		if err := index.Reset(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "index reset: %s\n", index.Path())
		return nil
	},
}

func init() {
	indexEventsCmd.Flags().String("run", "", "only events of this run id")
	indexEventsCmd.Flags().String("task", "", "only events of this task id")
	indexEventsCmd.Flags().String("lang", "", "only events of this language (py or ts)")
	indexEventsCmd.Flags().Bool("failed", false, "only failed verifications")
	indexEventsCmd.Flags().Int("limit", 0, "maximum number of events (0 = all)")
	indexResetCmd.Flags().Bool("yes", false, "confirm the reset")

	indexCmd.AddCommand(indexImportCmd)
	indexCmd.AddCommand(indexStatsCmd)
	indexCmd.AddCommand(indexEventsCmd)
	indexCmd.AddCommand(indexResetCmd)
}
