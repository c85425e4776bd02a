package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEKXH/gatekeep/internal/agents"
	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/audit"
	"github.com/MEKXH/gatekeep/internal/brain"
	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/config"
	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/peer"
	"github.com/MEKXH/gatekeep/internal/policy"
	"github.com/MEKXH/gatekeep/internal/provider"
	"github.com/MEKXH/gatekeep/internal/router"
	"github.com/MEKXH/gatekeep/internal/session"
	"github.com/MEKXH/gatekeep/internal/tasks"
	"github.com/MEKXH/gatekeep/internal/tools"
	"github.com/MEKXH/gatekeep/internal/worker"
)

// app holds the services one gatekeep process shares.
type app struct {
	cfg       *config.Config
	workspace string

	mailbox   *bus.Mailbox
	agents    *agents.Registry
	approvals *approval.Service
	queue     *tasks.Service
	registry  *tools.Registry
	worker    *worker.Loop
	router    *router.Router
	audit     *audit.Writer
	metrics   *metrics.RuntimeMetrics

	closers []io.Closer
}

// buildApp wires every service over the configured workspace. A missing
// chat model leaves the brain offline instead of failing.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	workspace := cfg.WorkspacePath()
	if err := os.MkdirAll(filepath.Join(workspace, "state"), 0755); err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}

	a := &app{
		cfg:       cfg,
		workspace: workspace,
		mailbox:   bus.NewMailbox(0),
		agents:    agents.NewRegistry(workspace),
		approvals: approval.NewService(workspace),
		queue:     tasks.NewService(workspace),
		audit:     audit.NewWriter(workspace),
		metrics:   metrics.NewRuntimeMetrics(workspace, metrics.NewCollectors()),
	}
	a.approvals.SetDefaultTTL(cfg.ApprovalTTL())
	if _, err := a.agents.EnsurePrimary(primaryAgentID(cfg), cfg.Brain.Model); err != nil {
		return nil, fmt.Errorf("ensure primary agent: %w", err)
	}

	deliverer := peer.NewDeliverer(cfg.Peer.Kafka, a.mailbox)
	if c, ok := deliverer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var db *sql.DB
	if path := cfg.Tools.DB.Path; path != "" {
		opened, err := tools.OpenReadOnlyDB(path)
		if err != nil {
			slog.Warn("db_query disabled", "path", path, "error", err)
		} else {
			db = opened
			a.closers = append(a.closers, opened)
		}
	}

	registry, err := tools.NewBuiltinRegistry(tools.Deps{
		HTTP: tools.HTTPConfig{
			AllowHosts: cfg.Tools.HTTP.AllowHosts,
			Timeout:    cfg.HTTPTimeout(),
		},
		DB:        db,
		Queue:     a.queue,
		Deliverer: deliverer,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}
	a.registry = registry

	a.worker = worker.NewLoop(worker.Config{
		WorkerID:     cfg.Queue.WorkerID,
		PollInterval: cfg.PollInterval(),
		TaskTimeout:  cfg.TaskTimeout(),
	}, a.queue, registry, a.metrics)

	var b brain.Brain
	model, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		slog.Warn("no model configured", "error", err)
		b = brain.Offline{Err: err}
	} else {
		b = brain.NewModelBrain(model)
	}

	a.router, err = router.New(router.Deps{
		Brain:       b,
		Policy:      policy.NewEvaluator(),
		Approvals:   a.approvals,
		Tools:       registry,
		Audit:       a.audit,
		Learnings:   audit.NewFileLearningRecorder(workspace),
		Sessions:    session.NewManager(filepath.Join(workspace, "state"), cfg.Conversation.MaxTurns, cfg.Conversation.MaxThreads),
		Metrics:     a.metrics,
		ApprovalTTL: cfg.ApprovalTTL(),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database handle and the peer writer.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func primaryAgentID(cfg *config.Config) string {
	if id := strings.TrimSpace(cfg.Channels.Telegram.DefaultAgent); id != "" {
		return id
	}
	return "primary"
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return buildApp(ctx, cfg)
}
