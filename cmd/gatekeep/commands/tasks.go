package commands

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MEKXH/gatekeep/internal/tasks"
)

func NewTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage the task queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE:  runTasksList,
	}
	listCmd.Flags().String("status", "", "Filter by status")
	listCmd.Flags().String("agent", "", "Filter by agent id")
	listCmd.Flags().Int("limit", 50, "Maximum number of tasks")

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <name>",
		Short: "Enqueue a task through the run_job tool",
		Args:  cobra.ExactArgs(1),
		RunE:  runTasksEnqueue,
	}
	enqueueCmd.Flags().String("payload", "", "Task payload as a JSON object")
	enqueueCmd.Flags().String("schedule", "", "Cron expression for the first run")
	enqueueCmd.Flags().Int64("delay-ms", 0, "Delay before the task becomes eligible")
	enqueueCmd.Flags().String("idempotency-key", "", "Deduplication key")

	cmd.AddCommand(
		listCmd,
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show one task",
			Args:  cobra.ExactArgs(1),
			RunE:  runTasksShow,
		},
		enqueueCmd,
		&cobra.Command{
			Use:   "cancel <id>",
			Short: "Cancel a non-terminal task",
			Args:  cobra.ExactArgs(1),
			RunE:  runTasksCancel,
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a terminal task",
			Args:  cobra.ExactArgs(1),
			RunE:  runTasksDelete,
		},
		&cobra.Command{
			Use:   "run-once",
			Short: "Claim and execute at most one eligible task",
			Args:  cobra.NoArgs,
			RunE:  runTasksRunOnce,
		},
	)
	return cmd
}

func runTasksList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	status, _ := cmd.Flags().GetString("status")
	agent, _ := cmd.Flags().GetString("agent")
	limit, _ := cmd.Flags().GetInt("limit")

	query := tasks.Query{AgentID: strings.TrimSpace(agent), Limit: limit}
	if s := tasks.Status(strings.TrimSpace(status)); s != "" {
		if !slices.Contains(tasks.Statuses, s) {
			return fmt.Errorf("invalid status %q", status)
		}
		query.Status = s
	}

	list, err := a.queue.List(query)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return nil
	}

	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{
			t.ID,
			t.Name,
			string(t.Status),
			fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts),
			t.ScheduledAt.Local().Format(time.DateTime),
			t.LastError,
		})
	}
	renderTable(out, "Tasks", []column{
		{"ID", 40}, {"NAME", 16}, {"STATUS", 16}, {"ATTEMPTS", 9}, {"SCHEDULED", 20}, {"LAST ERROR", 30},
	}, rows, func(row []string) lipgloss.TerminalColor { return statusColor(row[2]) })
	return nil
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.queue.Get(args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, t)
}

func runTasksEnqueue(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	payloadRaw, _ := cmd.Flags().GetString("payload")
	schedule, _ := cmd.Flags().GetString("schedule")
	delay, _ := cmd.Flags().GetInt64("delay-ms")
	key, _ := cmd.Flags().GetString("idempotency-key")

	inputs := map[string]any{"name": args[0]}
	if strings.TrimSpace(payloadRaw) != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
			return fmt.Errorf("--payload must be a JSON object: %w", err)
		}
		inputs["payload"] = payload
	}
	if schedule != "" {
		inputs["schedule"] = schedule
	}
	if delay > 0 {
		inputs["delay_ms"] = delay
	}
	if key != "" {
		inputs["idempotency_key"] = key
	}

	out, err := a.registry.Execute(cmd.Context(), "run_job", inputs)
	if err != nil {
		return err
	}
	return printJSON(cmd, out)
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.queue.Cancel(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s.\n", t.ID, t.Status)
	return nil
}

func runTasksDelete(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.queue.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s deleted.\n", args[0])
	return nil
}

func runTasksRunOnce(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.worker.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	if !outcome.Processed {
		fmt.Fprintln(cmd.OutOrStdout(), "No eligible task.")
		return nil
	}
	return printJSON(cmd, outcome)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
