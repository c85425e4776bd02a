package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/channel"
	"github.com/MEKXH/gatekeep/internal/channel/telegram"
	"github.com/MEKXH/gatekeep/internal/config"
	"github.com/MEKXH/gatekeep/internal/gateway"
	"github.com/MEKXH/gatekeep/internal/peer"
)

const (
	shutdownTimeout = 5 * time.Second

	// webUIChannel gates the gateway's /command endpoint.
	webUIChannel = "web_ui"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gateway, worker loop and channels",
		RunE:  runServer,
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close resources failed", "error", err)
		}
	}()

	chanMgr := channel.NewManager(a.router, a.metrics)
	registerEnabledChannels(a.cfg, chanMgr)
	chanMgr.Control().Add(webUIChannel)

	gatewayServer := gateway.New(a.cfg.Gateway, gatewayDeps(a, chanMgr))
	sweeper := approval.NewSweeper(a.approvals, a.cfg.SweepInterval())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway server failed: %w", err)
		}
		return nil
	})
	if peer.Enabled(a.cfg.Peer.Kafka) && len(a.cfg.Peer.Kafka.Agents) > 0 {
		sub := peer.NewSubscriber(a.cfg.Peer.Kafka, a.mailbox)
		g.Go(func() error {
			return sub.Run(gctx)
		})
	}

	a.worker.Start()
	sweeper.Start()
	chanMgr.StartAll(gctx)

	fmt.Printf("Gatekeep running. Gateway: http://%s\nPress Ctrl+C to stop.\n", gatewayServer.Addr())

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		slog.Info("shutting down")
		chanMgr.StopAll(shutdownCtx)
		sweeper.Stop()
		a.worker.Stop()
		if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("gateway shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server component failed", "error", err)
		return err
	}
	return nil
}

func registerEnabledChannels(cfg *config.Config, mgr *channel.Manager) {
	tg := cfg.Channels.Telegram
	if !tg.Enabled {
		return
	}
	if tg.Token == "" {
		slog.Warn("telegram enabled without token, skipping")
		return
	}
	mgr.Register(telegram.New(tg))
}

func gatewayDeps(a *app, mgr *channel.Manager) gateway.Deps {
	webhooks := make(map[string]http.Handler)
	for _, name := range mgr.Names() {
		if name == "telegram" && !a.cfg.Channels.Telegram.Webhook {
			continue
		}
		webhooks[name] = mgr.WebhookHandler(name)
	}
	return gateway.Deps{
		Router:           a.router,
		Tasks:            a.queue,
		Approvals:        a.approvals,
		Worker:           a.worker,
		Audit:            a.audit,
		Mailbox:          a.mailbox,
		Metrics:          a.metrics,
		Agents:           a.agents,
		Channels:         mgr.Control(),
		Webhooks:         webhooks,
		DefaultWorkspace: a.cfg.Channels.Telegram.DefaultWorkspace,
		DefaultAgent:     a.cfg.Channels.Telegram.DefaultAgent,
	}
}
