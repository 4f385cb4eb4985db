package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the environment fingerprint recorded in audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		fp := fingerprinter(cfg.Repairloop)(cmd.Context())
		data, err := json.MarshalIndent(fp, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal fingerprint: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}
