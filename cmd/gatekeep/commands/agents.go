package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage registered agents",
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a secondary agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentsAdd,
	}
	addCmd.Flags().String("model", "", "Model the agent runs on")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered agents",
			RunE:  runAgentsList,
		},
		addCmd,
	)
	return cmd
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.agents.List()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		role := "secondary"
		if p.Primary {
			role = "primary"
		}
		rows = append(rows, []string{p.ID, p.Name, role, p.Model, p.CreatedAt.Local().Format(time.DateTime)})
	}
	renderTable(cmd.OutOrStdout(), "Agents", []column{
		{"ID", 20}, {"NAME", 20}, {"ROLE", 10}, {"MODEL", 20}, {"CREATED", 20},
	}, rows, nil)
	return nil
}

func runAgentsAdd(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	model, _ := cmd.Flags().GetString("model")
	profile, err := a.agents.Create(args[0], model)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s registered.\n", profile.ID)
	return nil
}
