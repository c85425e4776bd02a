package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/MEKXH/gatekeep/internal/agents"
	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/audit"
	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/channel"
	"github.com/MEKXH/gatekeep/internal/metrics"
	"github.com/MEKXH/gatekeep/internal/router"
	"github.com/MEKXH/gatekeep/internal/tasks"
	"github.com/MEKXH/gatekeep/internal/worker"
)

// EventRouter drives commands and approval decisions. *router.Router
// satisfies it.
type EventRouter interface {
	Route(ctx context.Context, event bus.Event, opts router.RouteOptions) (router.Reply, error)
	Decide(ctx context.Context, id, actorID string, decision approval.Decision, reason string) (router.DecideResult, error)
}

// TaskRunner forces one worker pass. *worker.Loop satisfies it.
type TaskRunner interface {
	RunOnce(ctx context.Context) (worker.Outcome, error)
}

// AgentDirectory resolves agent selectors. *agents.Registry satisfies it.
type AgentDirectory interface {
	Resolve(selector string) (agents.Profile, error)
	List() ([]agents.Profile, error)
	Create(name, model string) (agents.Profile, error)
}

// ChannelGate switches channels on and off. *channel.Control satisfies it.
type ChannelGate interface {
	Enabled(name string) bool
	MarkActivity(name string)
	SetEnabled(name string, enabled bool) (map[string]channel.State, error)
	Snapshot() map[string]channel.State
}

// RateLimit bounds requests per client over a sliding window.
type RateLimit struct {
	MaxRequests int
	Window      time.Duration
}

// Deps are the services exposed over HTTP. Nil services answer 503 on
// their routes.
type Deps struct {
	Router    EventRouter
	Tasks     *tasks.Service
	Approvals *approval.Service
	Worker    TaskRunner
	Audit     *audit.Writer
	Mailbox   *bus.Mailbox
	Metrics   *metrics.RuntimeMetrics
	// Agents, when set, rejects /command selectors naming unknown agents.
	Agents   AgentDirectory
	Channels ChannelGate

	// Webhooks are mounted at /webhooks/{name} outside bearer auth; each
	// handler verifies its own secret.
	Webhooks map[string]http.Handler

	DefaultWorkspace string
	DefaultAgent     string

	Token     string
	RateLimit RateLimit
}

type api struct {
	deps Deps
}

// NewHandler builds the routed, authenticated handler.
func NewHandler(deps Deps) http.Handler {
	if deps.DefaultWorkspace == "" {
		deps.DefaultWorkspace = "default"
	}
	if deps.DefaultAgent == "" {
		deps.DefaultAgent = "primary"
	}
	a := &api{deps: deps}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, getRequestID(req), http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, getRequestID(req), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware(deps.Metrics.Collectors()))
	r.Use(authMiddleware(deps.Token))
	r.Use(rateLimitMiddleware(newRateLimiter(deps.RateLimit.MaxRequests, deps.RateLimit.Window)))

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.HandleFunc("/version", a.version).Methods(http.MethodGet)
	r.HandleFunc("/metrics", a.metrics).Methods(http.MethodGet)

	r.HandleFunc("/command", a.command).Methods(http.MethodPost)

	r.HandleFunc("/tasks", a.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/run-once", a.runOnce).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", a.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", a.deleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/{id}/cancel", a.cancelTask).Methods(http.MethodPost)

	r.HandleFunc("/approvals", a.listApprovals).Methods(http.MethodGet)
	r.HandleFunc("/approvals/{id}", a.getApproval).Methods(http.MethodGet)
	r.HandleFunc("/approvals/{id}/{decision:approve|reject}", a.decideApproval).Methods(http.MethodPost)

	r.HandleFunc("/audit/{trace_id}", a.auditTrail).Methods(http.MethodGet)

	r.HandleFunc("/channels", a.listChannels).Methods(http.MethodGet)
	r.HandleFunc("/channels", a.setChannel).Methods(http.MethodPost)

	r.HandleFunc("/agents", a.listAgents).Methods(http.MethodGet)
	r.HandleFunc("/agents", a.createAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents/{id}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/agents/{id}/messages/{message_id}/read", a.markMessageRead).Methods(http.MethodPost)

	for name, h := range deps.Webhooks {
		r.Handle("/webhooks/"+name, h).Methods(http.MethodPost)
	}
	return r
}
