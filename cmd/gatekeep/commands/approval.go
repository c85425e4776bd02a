package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/router"
)

func NewApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage pending actions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending actions",
		RunE:  runApprovalList,
	}
	listCmd.Flags().String("status", string(approval.StatusPending), "Filter by status (empty for all)")
	listCmd.Flags().String("type", "", "Filter by type (approval|confirm)")
	listCmd.Flags().Int("limit", 50, "Maximum number of actions")

	cmd.AddCommand(
		listCmd,
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show one pending action",
			Args:  cobra.ExactArgs(1),
			RunE:  runApprovalShow,
		},
		newApprovalDecisionCmd("approve", "Approve a pending action and run it", approval.DecisionApprove),
		newApprovalDecisionCmd("reject", "Reject a pending action", approval.DecisionReject),
	)

	return cmd
}

func newApprovalDecisionCmd(use, short string, decision approval.Decision) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalDecision(cmd, args[0], decision)
		},
	}
	cmd.Flags().String("by", "", "Decision maker")
	cmd.Flags().String("reason", "", "Decision reason")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	status, _ := cmd.Flags().GetString("status")
	kind, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")

	actions, err := a.approvals.List(approval.Query{
		Status: approval.Status(strings.TrimSpace(status)),
		Kind:   approval.Kind(strings.TrimSpace(kind)),
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(actions) == 0 {
		fmt.Fprintln(out, "No pending actions.")
		return nil
	}

	rows := make([][]string, 0, len(actions))
	for _, act := range actions {
		rows = append(rows, []string{
			act.ID,
			string(act.Kind),
			string(act.Status),
			string(act.Proposal.Tool),
			string(act.Proposal.Risk),
			act.ExpiresAt.Local().Format(time.DateTime),
			act.Reason,
		})
	}
	renderTable(out, "Pending Actions", []column{
		{"ID", 40}, {"TYPE", 9}, {"STATUS", 9}, {"TOOL", 16}, {"RISK", 7}, {"EXPIRES", 20}, {"REASON", 30},
	}, rows, func(row []string) lipgloss.TerminalColor { return statusColor(row[2]) })
	return nil
}

func runApprovalShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	act, err := a.approvals.Get(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, act)
}

func runApprovalDecision(cmd *cobra.Command, id string, decision approval.Decision) error {
	by, _ := cmd.Flags().GetString("by")
	reason, _ := cmd.Flags().GetString("reason")
	if strings.TrimSpace(by) == "" {
		return fmt.Errorf("--by is required")
	}

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.router.Decide(cmd.Context(), id, strings.TrimSpace(by), decision, strings.TrimSpace(reason))
	if err != nil {
		return err
	}
	printDecision(cmd, res)
	return nil
}

func printDecision(cmd *cobra.Command, res router.DecideResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pending action %s %s.\n", res.Action.ID, res.Action.Status)
	if res.NextStep == router.NextStepConfirmToken {
		fmt.Fprintf(out, "Next step: send confirm_token %s to execute %s.\n", res.ConfirmToken, res.Action.Proposal.Tool)
	}
	if res.Execution != nil {
		_ = printJSON(cmd, res.Execution)
	}
}
