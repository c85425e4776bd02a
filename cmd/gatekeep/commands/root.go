package commands

import (
	"github.com/spf13/cobra"

	"github.com/MEKXH/gatekeep/internal/config"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gatekeep",
		Short:         "Gatekeep - policy-gated agent action control plane",
		Long:          `Gatekeep turns agent tool proposals into audited, policy-gated actions with human approval and a durable task queue.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewRunCmd(),
		NewStatusCmd(),
		NewApprovalCmd(),
		NewTasksCmd(),
		NewPolicyCmd(),
		NewAgentsCmd(),
		NewVersionCmd(),
	)

	return cmd
}
