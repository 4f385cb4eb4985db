package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/repairloop/internal/config"
	"github.com/lucasnoah/repairloop/internal/logging"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	verbose    bool
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "repairloop",
	Short: "Verification-first repair of generated code",
	Long: `repairloop writes each candidate of a task to disk, verifies it in a
staged pipeline, applies deterministic patches and an optional budgeted
proposer on failure, and appends every verification to a JSONL audit log.

The audit log can be replayed later to prove that every logged outcome
reproduces.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		l, err := logging.New(cfg.Repairloop.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves --config or the default search path.
func loadConfig() (*config.Config, string, error) {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		return cfg, configFile, err
	}
	return config.LoadDefault()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to repairloop config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(envCmd)
}
