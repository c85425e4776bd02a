package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/router"
	"github.com/MEKXH/gatekeep/internal/tasks"
	"github.com/MEKXH/gatekeep/internal/version"
)

const (
	defaultApprovalsLimit = 50

	commandChannel = "web_ui"
	commandSender  = "approval-ui"
)

func (a *api) unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, getRequestID(r), http.StatusServiceUnavailable, "unavailable", what+" is not configured")
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"request_id": getRequestID(r),
	})
}

func (a *api) version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version.Version,
		"request_id": getRequestID(r),
	})
}

func (a *api) metrics(w http.ResponseWriter, r *http.Request) {
	collectors := a.deps.Metrics.Collectors()
	if collectors == nil {
		a.unavailable(w, r, "metrics")
		return
	}
	if a.deps.Tasks != nil {
		if stats, err := a.deps.Tasks.Stats(); err == nil {
			for _, status := range tasks.Statuses {
				collectors.SetQueueDepth(string(status), stats[status])
			}
		} else {
			slog.Warn("refresh queue depth failed", "error", err)
		}
	}
	collectors.Handler().ServeHTTP(w, r)
}

type commandRequest struct {
	Text         string `json:"text"`
	ConfirmToken string `json:"confirm_token"`
	Workspace    string `json:"workspace"`
	Agent        string `json:"agent"`
	ThreadID     string `json:"thread_id"`
}

func (a *api) command(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Router == nil {
		a.unavailable(w, r, "router")
		return
	}

	if a.deps.Channels != nil && !a.deps.Channels.Enabled(commandChannel) {
		writeError(w, requestID, http.StatusServiceUnavailable, "channel_disabled", commandChannel+" channel is disabled")
		return
	}

	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	token := strings.TrimSpace(req.ConfirmToken)
	if text == "" && token == "" {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "text or confirm_token is required")
		return
	}

	workspace := firstNonEmpty(req.Workspace, a.deps.DefaultWorkspace)
	agent := firstNonEmpty(req.Agent, a.deps.DefaultAgent)
	if a.deps.Agents != nil {
		profile, err := a.deps.Agents.Resolve(req.Agent)
		if err != nil {
			writeServiceError(w, requestID, err)
			return
		}
		agent = profile.ID
	}
	if a.deps.Channels != nil {
		a.deps.Channels.MarkActivity(commandChannel)
	}
	thread := firstNonEmpty(req.ThreadID, fmt.Sprintf("%s:%d", commandSender, time.Now().UnixMilli()))

	event := bus.NewEvent(bus.EventInput{
		Channel:   commandChannel,
		Sender:    bus.Sender{ID: commandSender, Display: "Approval UI", Roles: []string{"operator"}},
		ThreadID:  thread,
		Workspace: workspace,
		Agent:     agent,
		Text:      text,
	})

	reply, err := a.deps.Router.Route(r.Context(), event, router.RouteOptions{ConfirmToken: token})
	if err != nil {
		slog.Error("gateway command failed", "request_id", requestID, "trace_id", event.TraceID, "error", err)
		writeServiceErrorFields(w, requestID, err, map[string]any{"trace_id": event.TraceID})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		router.Reply
		RequestID string `json:"request_id"`
	}{Reply: reply, RequestID: requestID})
}

func (a *api) listTasks(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Tasks == nil {
		a.unavailable(w, r, "task queue")
		return
	}

	q := r.URL.Query()
	status := tasks.Status(strings.TrimSpace(q.Get("status")))
	if status != "" && !slices.Contains(tasks.Statuses, status) {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown task status %q", status))
		return
	}
	limit, err := parseLimit(q.Get("limit"), 0)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	list, err := a.deps.Tasks.List(tasks.Query{Status: status, AgentID: q.Get("agent_id"), Limit: limit})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":      list,
		"count":      len(list),
		"request_id": requestID,
	})
}

func (a *api) getTask(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Tasks == nil {
		a.unavailable(w, r, "task queue")
		return
	}
	task, err := a.deps.Tasks.Get(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "request_id": requestID})
}

func (a *api) cancelTask(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Tasks == nil {
		a.unavailable(w, r, "task queue")
		return
	}
	task, err := a.deps.Tasks.Cancel(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	slog.Info("task cancelled", "request_id", requestID, "task_id", task.ID)
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "request_id": requestID})
}

func (a *api) deleteTask(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Tasks == nil {
		a.unavailable(w, r, "task queue")
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.deps.Tasks.Delete(id); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id, "request_id": requestID})
}

// runOnce accepts no body or exactly an empty JSON object.
func (a *api) runOnce(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Worker == nil {
		a.unavailable(w, r, "worker")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "read request body failed")
		return
	}
	if body := bytes.TrimSpace(raw); len(body) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil || fields == nil || len(fields) > 0 {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "run-once accepts only an empty JSON object")
			return
		}
	}

	outcome, err := a.deps.Worker.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome, "request_id": requestID})
}

func (a *api) listApprovals(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Approvals == nil {
		a.unavailable(w, r, "approval ledger")
		return
	}

	q := r.URL.Query()
	status := approval.Status(strings.TrimSpace(q.Get("status")))
	switch status {
	case "", approval.StatusPending, approval.StatusApproved, approval.StatusRejected, approval.StatusExecuted, approval.StatusExpired:
	default:
		writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown approval status %q", status))
		return
	}
	kind := approval.Kind(strings.TrimSpace(firstNonEmpty(q.Get("type"), q.Get("kind"))))
	switch kind {
	case "", approval.KindApproval, approval.KindConfirm:
	default:
		writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown approval type %q", kind))
		return
	}
	limit, err := parseLimit(q.Get("limit"), defaultApprovalsLimit)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	list, err := a.deps.Approvals.List(approval.Query{Status: status, Kind: kind, Limit: limit})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approvals":  list,
		"count":      len(list),
		"request_id": requestID,
	})
}

func (a *api) getApproval(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Approvals == nil {
		a.unavailable(w, r, "approval ledger")
		return
	}
	action, err := a.deps.Approvals.Get(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approval": action, "request_id": requestID})
}

type decideRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (a *api) decideApproval(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Router == nil {
		a.unavailable(w, r, "router")
		return
	}

	var req decideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	vars := mux.Vars(r)
	decision := approval.DecisionApprove
	if vars["decision"] == "reject" {
		decision = approval.DecisionReject
	}

	res, err := a.deps.Router.Decide(r.Context(), vars["id"], req.ActorID, decision, req.Reason)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		router.DecideResult
		RequestID string `json:"request_id"`
	}{DecideResult: res, RequestID: requestID})
}

func (a *api) auditTrail(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Audit == nil {
		a.unavailable(w, r, "audit trail")
		return
	}
	records, err := a.deps.Audit.ListByTrace(mux.Vars(r)["trace_id"])
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":    records,
		"count":      len(records),
		"request_id": requestID,
	})
}

func (a *api) listMessages(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Mailbox == nil {
		a.unavailable(w, r, "mailbox")
		return
	}
	agentID := mux.Vars(r)["id"]
	unread := r.URL.Query().Get("unread") == "true"
	messages := a.deps.Mailbox.List(agentID, unread)
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":   messages,
		"pending":    a.deps.Mailbox.PendingCount(agentID),
		"request_id": requestID,
	})
}

func (a *api) markMessageRead(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Mailbox == nil {
		a.unavailable(w, r, "mailbox")
		return
	}
	vars := mux.Vars(r)
	if !a.deps.Mailbox.MarkRead(vars["id"], vars["message_id"]) {
		writeError(w, requestID, http.StatusNotFound, "not_found", "message not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"read": true, "request_id": requestID})
}

type channelRequest struct {
	Channel string `json:"channel"`
	Enabled *bool  `json:"enabled"`
}

func (a *api) listChannels(w http.ResponseWriter, r *http.Request) {
	if a.deps.Channels == nil {
		a.unavailable(w, r, "channel control")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels":   a.deps.Channels.Snapshot(),
		"request_id": getRequestID(r),
	})
}

func (a *api) setChannel(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Channels == nil {
		a.unavailable(w, r, "channel control")
		return
	}
	var req channelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", "enabled must be boolean")
		return
	}
	snapshot, err := a.deps.Channels.SetEnabled(strings.TrimSpace(req.Channel), *req.Enabled)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	slog.Info("channel toggled", "request_id", requestID, "channel", req.Channel, "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"channels": snapshot, "request_id": requestID})
}

type agentRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (a *api) listAgents(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Agents == nil {
		a.unavailable(w, r, "agent registry")
		return
	}
	list, err := a.deps.Agents.List()
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": list, "request_id": requestID})
}

func (a *api) createAgent(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r)
	if a.deps.Agents == nil {
		a.unavailable(w, r, "agent registry")
		return
	}
	var req agentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	profile, err := a.deps.Agents.Create(req.Name, req.Model)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"agent": profile, "request_id": requestID})
}

func parseLimit(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
