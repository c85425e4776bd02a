package commands

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/config"
	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/peer"
	"github.com/MEKXH/gatekeep/internal/tasks"
)

var (
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8E4EC6"))
	labelStyle   = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("245"))
	goodStyle    = lipgloss.NewStyle().Foreground(okColor)
	badStyle     = lipgloss.NewStyle().Foreground(warnColor)
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, queue and runtime status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspace := cfg.WorkspacePath()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, headerStyle.Render("Gatekeep Status"))

	section(out, "Config")
	row(out, "Path", config.ConfigPath())
	row(out, "Workspace", workspace)
	if _, err := os.Stat(workspace); err == nil {
		row(out, "Workspace status", goodStyle.Render("OK"))
	} else {
		row(out, "Workspace status", badStyle.Render("not found (run 'gatekeep init')"))
	}

	section(out, "Brain")
	row(out, "Model", cfg.Brain.Model)
	for _, p := range []struct {
		name string
		set  bool
	}{
		{"Claude", cfg.Providers.Claude.APIKey != ""},
		{"OpenAI", cfg.Providers.OpenAI.APIKey != ""},
		{"Ollama", cfg.Providers.Ollama.BaseURL != ""},
	} {
		row(out, p.name, configured(p.set))
	}

	section(out, "Gateway")
	row(out, "Address", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))
	if cfg.Gateway.Token != "" {
		row(out, "Auth", "token configured")
	} else {
		row(out, "Auth", badStyle.Render("no token (open)"))
	}
	if cfg.Gateway.RateLimit.MaxRequests > 0 {
		row(out, "Rate limit", fmt.Sprintf("%d req / %ds", cfg.Gateway.RateLimit.MaxRequests, cfg.Gateway.RateLimit.WindowSeconds))
	} else {
		row(out, "Rate limit", "disabled")
	}

	section(out, "Channels")
	row(out, "Telegram", channelLine(cfg.Channels.Telegram))

	section(out, "Peer messaging")
	if peer.Enabled(cfg.Peer.Kafka) {
		row(out, "Kafka", fmt.Sprintf("%s (prefix %s)", strings.Join(cfg.Peer.Kafka.Brokers, ","), cfg.Peer.Kafka.TopicPrefix))
	} else {
		row(out, "Kafka", "disabled (in-process mailbox)")
	}

	section(out, "Task queue")
	stats, err := tasks.NewService(workspace).Stats()
	if err != nil {
		row(out, "Status", badStyle.Render("unavailable: "+err.Error()))
	} else {
		for _, s := range tasks.Statuses {
			row(out, string(s), fmt.Sprintf("%d", stats[s]))
		}
	}

	section(out, "Approvals")
	pending, err := approval.NewService(workspace).List(approval.Query{Status: approval.StatusPending})
	if err != nil {
		row(out, "Status", badStyle.Render("unavailable: "+err.Error()))
	} else {
		row(out, "Pending", fmt.Sprintf("%d", len(pending)))
	}

	section(out, "Runtime")
	snap, err := metrics.ReadRuntimeSnapshot(workspace)
	switch {
	case err != nil:
		row(out, "Status", badStyle.Render("unavailable: "+err.Error()))
	case !snap.HasData():
		row(out, "Status", "no data yet")
	default:
		row(out, "Tool executions", fmt.Sprintf("%d (errors %.1f%%, timeouts %.1f%%, avg %.0fms, p95~%dms)",
			snap.Tool.Total, snap.Tool.ErrorRatio()*100, snap.Tool.TimeoutRatio()*100, snap.Tool.AvgLatencyMs(), snap.Tool.P95ProxyLatencyMs))
		row(out, "Channel sends", fmt.Sprintf("%d (failures %.1f%%)", snap.Channel.SendAttempts, snap.Channel.FailureRatio()*100))
		row(out, "Tasks", fmt.Sprintf("claimed %d, succeeded %d, retried %d, failed %d",
			snap.Tasks.Claimed, snap.Tasks.Succeeded, snap.Tasks.Retried, snap.Tasks.Failed))
		for _, action := range sortedKeys(snap.Decisions) {
			row(out, "Decision "+action, fmt.Sprintf("%d", snap.Decisions[action]))
		}
	}
	return nil
}

func section(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n", sectionStyle.Render(title))
}

func row(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label), value)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func configured(ok bool) string {
	if ok {
		return goodStyle.Render("configured")
	}
	return "not configured"
}

func channelLine(tg config.TelegramConfig) string {
	switch {
	case !tg.Enabled:
		return "disabled"
	case tg.Token == "":
		return badStyle.Render("enabled (missing token)")
	case tg.Webhook:
		return goodStyle.Render("enabled (webhook)")
	default:
		return goodStyle.Render("enabled (polling)")
	}
}
