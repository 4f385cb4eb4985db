package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/repairloop/internal/analytics"
	"github.com/lucasnoah/repairloop/internal/audit"
)

var statsCmd = &cobra.Command{
	Use:   "stats [log-file]",
	Short: "Pass rates, failure types, signatures and patcher hits",
	Long: `Aggregates an audit log. Without a log file argument the configured
audit log is read. With --index the SQLite index is queried instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		r := cfg.Repairloop
		since, _ := cmd.Flags().GetString("since")

		var summary analytics.Summary
		if useIndex, _ := cmd.Flags().GetBool("index"); useIndex {
			index, err := openIndex(r)
			if err != nil {
				return err
			}
			defer index.Close()
			if summary, err = analytics.QuerySummary(index, since); err != nil {
				return err
			}
		} else {
			path := r.AuditLog
			if len(args) == 1 {
				path = args[0]
			}
			records, err := audit.ReadFile(path)
			if err != nil {
				return err
			}
			summary = analytics.Summarize(records, since)
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal stats: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		case "text":
			analytics.Print(cmd.OutOrStdout(), summary)
		default:
			return fmt.Errorf("unknown format %q (want text or json)", format)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("format", "text", "Output format: text or json")
	statsCmd.Flags().String("since", "", "only events at or after this RFC 3339 timestamp")
	statsCmd.Flags().Bool("index", false, "query the SQLite index instead of a log file")
}
