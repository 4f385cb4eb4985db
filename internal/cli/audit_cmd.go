package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/repairloop/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect audit logs",
}

var auditValidateCmd = &cobra.Command{
	Use:   "validate [log-file]",
	Short: "Check every record of a log against the event schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := audit.ReadFile(args[0])
		if err != nil {
			return err
		}
		problems, err := audit.ValidateRecords(records)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, p := range problems {
			fmt.Fprintf(w, "[%s] line %d: %v\n", color.RedString("FAIL"), p.Line, p.Err)
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d of %d record(s) invalid", len(problems), len(records))
		}
		fmt.Fprintf(w, "[%s] %d record(s) valid\n", color.GreenString("PASS"), len(records))
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditValidateCmd)
}
