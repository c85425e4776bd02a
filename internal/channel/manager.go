package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/router"
)

const (
	defaultMaxConcurrentSends = 16
	maxWebhookBytes           = 1 << 20

	confirmCommand = "/confirm"
)

// EventRouter handles routed events. *router.Router satisfies it.
type EventRouter interface {
	Route(ctx context.Context, event bus.Event, opts router.RouteOptions) (router.Reply, error)
}

// Manager routes connector events and sends replies back.
type Manager struct {
	connectors    map[string]Connector
	router        EventRouter
	sendSem       chan struct{}
	control       *Control
	runtimeMetric *metrics.RuntimeMetrics
	wg            sync.WaitGroup
	mu            sync.RWMutex
}

// NewManager creates a channel manager with bounded reply concurrency.
func NewManager(r EventRouter, recorder *metrics.RuntimeMetrics) *Manager {
	return NewManagerWithLimit(r, recorder, defaultMaxConcurrentSends)
}

// NewManagerWithLimit creates a manager handling at most maxConcurrent
// events at once.
func NewManagerWithLimit(r EventRouter, recorder *metrics.RuntimeMetrics, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		connectors:    make(map[string]Connector),
		router:        r,
		sendSem:       make(chan struct{}, maxConcurrent),
		control:       NewControl(),
		runtimeMetric: recorder,
	}
}

// Register adds a connector
func (m *Manager) Register(c Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[c.Name()] = c
	m.control.Add(c.Name())
}

// Control returns the enable switches for registered channels.
func (m *Manager) Control() *Control {
	return m.control
}

// Names returns registered connector names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a registered connector.
func (m *Manager) Get(name string) (Connector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[name]
	return c, ok
}

// StartAll starts every receiver in its own goroutine.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, c := range m.connectors {
		recv, ok := c.(Receiver)
		if !ok {
			continue
		}
		m.wg.Add(1)
		go func(n string, r Receiver) {
			defer m.wg.Done()
			slog.Info("starting channel", "name", n)
			err := r.Receive(ctx, func(ctx context.Context, ev bus.Event) {
				m.Handle(ctx, r, ev)
			})
			if err != nil {
				slog.Error("channel error", "name", n, "error", err)
			}
		}(name, recv)
	}
}

// StopAll stops receivers and waits for in-flight events.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	for _, c := range m.connectors {
		if recv, ok := c.(Receiver); ok {
			_ = recv.Stop(ctx)
		}
	}
	m.mu.RUnlock()
	m.wg.Wait()
}

// Dispatch decodes a raw payload with the named connector and handles it.
func (m *Manager) Dispatch(ctx context.Context, name string, raw []byte) error {
	c, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("unknown channel: %s", name)
	}
	ev, err := c.ToEvent(raw)
	if err != nil {
		if errors.Is(err, ErrIgnored) || errors.Is(err, ErrSenderNotAllowed) {
			slog.Debug("channel payload dropped", "channel", name, "reason", err)
			return nil
		}
		return fmt.Errorf("decode %s payload: %w", name, err)
	}
	m.Handle(ctx, c, ev)
	return nil
}

// Handle routes one event and sends the reply to its thread. A leading
// "/confirm <token>" switches to the confirm-token path. Events on a
// disabled channel are dropped.
func (m *Manager) Handle(ctx context.Context, c Connector, ev bus.Event) {
	if !m.control.Enabled(c.Name()) {
		slog.Debug("channel disabled, event dropped", "channel", c.Name(), "trace_id", ev.TraceID)
		return
	}
	m.control.MarkActivity(c.Name())

	select {
	case m.sendSem <- struct{}{}:
		defer func() { <-m.sendSem }()
	case <-ctx.Done():
		return
	}

	var opts router.RouteOptions
	if token, ok := confirmToken(ev.Text); ok {
		opts.ConfirmToken = token
		ev.Text = ""
	}

	text := ""
	reply, err := m.router.Route(ctx, ev, opts)
	if err != nil {
		text = fmt.Sprintf("failed (trace_id %s): %v", ev.TraceID, err)
	} else {
		text = reply.Text
		if reply.ConfirmToken != "" {
			text += "\n" + confirmCommand + " " + reply.ConfirmToken
		}
	}

	sendErr := c.SendReply(ctx, ev.ThreadID, text)
	if m.runtimeMetric != nil {
		if _, recordErr := m.runtimeMetric.RecordChannelSend(sendErr == nil); recordErr != nil {
			slog.Warn("record runtime metrics failed", "scope", "channel", "error", recordErr)
		}
	}
	if sendErr != nil {
		slog.Error("send reply failed", "trace_id", ev.TraceID, "channel", c.Name(), "thread_id", ev.ThreadID, "error", sendErr)
	}
}

// WebhookHandler accepts pushed payloads for the named connector. The
// payload is acknowledged before routing finishes.
func (m *Manager) WebhookHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := m.Get(name)
		if !ok {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}
		if !m.control.Enabled(name) {
			http.Error(w, name+" channel is disabled", http.StatusServiceUnavailable)
			return
		}
		if v, ok := c.(WebhookVerifier); ok && !v.VerifyWebhook(r) {
			http.Error(w, "invalid webhook secret", http.StatusUnauthorized)
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.Dispatch(ctx, name, raw); err != nil {
				slog.Warn("webhook dispatch failed", "channel", name, "error", err)
			}
		}()
		w.WriteHeader(http.StatusOK)
	})
}

func confirmToken(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 2 && fields[0] == confirmCommand {
		return fields[1], true
	}
	return "", false
}
