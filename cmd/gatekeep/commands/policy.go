package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/policy"
	"github.com/MEKXH/gatekeep/internal/proposal"
)

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the policy engine",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a proposal without executing it",
		Args:  cobra.NoArgs,
		RunE:  runPolicyCheck,
	}
	checkCmd.Flags().StringSlice("roles", []string{string(policy.RoleOperator)}, "Sender roles")
	checkCmd.Flags().String("tool", "", "Tool name")
	checkCmd.Flags().String("risk", string(proposal.RiskLow), "Declared risk (low|medium|high)")
	checkCmd.Flags().String("reason", "", "Proposal reason")
	checkCmd.Flags().String("inputs", "", "Tool inputs as a JSON object")
	checkCmd.Flags().String("workspace", "default", "Event workspace")
	checkCmd.Flags().String("agent", "primary", "Event agent")
	_ = checkCmd.MarkFlagRequired("tool")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "roles",
			Short: "List roles and the capabilities they grant",
			Args:  cobra.NoArgs,
			RunE:  runPolicyRoles,
		},
		checkCmd,
	)
	return cmd
}

func runPolicyRoles(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, role := range policy.Roles() {
		fmt.Fprintf(out, "%-9s %s\n", role, strings.Join(policy.Capabilities([]string{string(role)}), ", "))
	}
	return nil
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	roles, _ := cmd.Flags().GetStringSlice("roles")
	tool, _ := cmd.Flags().GetString("tool")
	risk, _ := cmd.Flags().GetString("risk")
	reason, _ := cmd.Flags().GetString("reason")
	inputsRaw, _ := cmd.Flags().GetString("inputs")
	workspace, _ := cmd.Flags().GetString("workspace")
	agent, _ := cmd.Flags().GetString("agent")

	inputs := map[string]any{}
	if strings.TrimSpace(inputsRaw) != "" {
		if err := json.Unmarshal([]byte(inputsRaw), &inputs); err != nil {
			return fmt.Errorf("--inputs must be a JSON object: %w", err)
		}
	}

	ev := bus.NewEvent(bus.EventInput{
		Channel:   "cli",
		Sender:    bus.Sender{ID: "cli", Roles: roles},
		Workspace: workspace,
		Agent:     agent,
	})
	p := proposal.ToolProposal{
		TraceID:        ev.TraceID,
		Type:           proposal.TypeToolProposal,
		Tool:           proposal.ToolName(strings.TrimSpace(tool)),
		Risk:           proposal.RiskLevel(strings.TrimSpace(risk)),
		Inputs:         inputs,
		Reason:         reason,
		IdempotencyKey: "cli-" + ev.TraceID,
	}
	if err := p.Validate(); err != nil {
		return err
	}

	return printJSON(cmd, policy.NewEvaluator().Evaluate(ev, p))
}
