package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MEKXH/gatekeep/internal/agents"
	"github.com/MEKXH/gatekeep/internal/approval"
	"github.com/MEKXH/gatekeep/internal/channel"
	"github.com/MEKXH/gatekeep/internal/proposal"
	"github.com/MEKXH/gatekeep/internal/router"
	"github.com/MEKXH/gatekeep/internal/tasks"
)

const maxBodyBytes = 1 << 20

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeErrorFields(w, requestID, status, code, message, nil)
}

// writeErrorFields writes an error body carrying extra fields such as
// trace_id.
func writeErrorFields(w http.ResponseWriter, requestID string, status int, code, message string, extra map[string]any) {
	body := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		body[k] = v
	}
	body["code"] = code
	body["message"] = message
	body["request_id"] = requestID
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	writeServiceErrorFields(w, requestID, err, nil)
}

func writeServiceErrorFields(w http.ResponseWriter, requestID string, err error, extra map[string]any) {
	status, code := classify(err)
	writeErrorFields(w, requestID, status, code, err.Error(), extra)
}

func classify(err error) (int, string) {
	var verr *proposal.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, router.ErrInvalidProposal),
		errors.Is(err, approval.ErrInvalidInput),
		errors.Is(err, tasks.ErrInvalidInput),
		errors.Is(err, agents.ErrInvalidInput),
		errors.Is(err, channel.ErrUnknownChannel):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, approval.ErrNotPending),
		errors.Is(err, approval.ErrNotExecutable),
		errors.Is(err, tasks.ErrNotTerminal),
		errors.Is(err, tasks.ErrTerminal):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, approval.ErrExpired):
		return http.StatusBadRequest, "expired"
	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, agents.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, router.ErrDuplicateProposal):
		return http.StatusConflict, "duplicate"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json request: %w", err)
	}
	return nil
}
