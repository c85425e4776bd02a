package proposal

import (
	"fmt"
	"slices"
	"strings"
)

// TypeToolProposal is the fixed discriminator carried by every proposal.
const TypeToolProposal = "tool_proposal"

// ToolName identifies the tool a proposal wants to invoke.
type ToolName string

const (
	ToolHTTPRequest    ToolName = "http_request"
	ToolRunJob         ToolName = "run_job"
	ToolDBQuery        ToolName = "db_query"
	ToolSendMessage    ToolName = "send_message"
	ToolShellCommand   ToolName = "shell_command"
	ToolForwardToAgent ToolName = "forward_to_agent"
)

// Tools lists every tool a proposal may name.
var Tools = []ToolName{
	ToolHTTPRequest,
	ToolRunJob,
	ToolDBQuery,
	ToolSendMessage,
	ToolShellCommand,
	ToolForwardToAgent,
}

// RiskLevel is the declared risk tier of a proposal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolProposal is the single action the brain wants to take next.
type ToolProposal struct {
	TraceID        string         `json:"trace_id"`
	Type           string         `json:"type"`
	Tool           ToolName       `json:"tool"`
	Risk           RiskLevel      `json:"risk"`
	Inputs         map[string]any `json:"inputs"`
	Reason         string         `json:"reason"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// ValidationError reports a malformed proposal. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tool proposal: %s %s", e.Field, e.Message)
}

// Validate checks the discriminator, required fields and closed value sets.
func (p ToolProposal) Validate() error {
	if p.Type != TypeToolProposal {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("must be %q", TypeToolProposal)}
	}
	if strings.TrimSpace(p.TraceID) == "" {
		return &ValidationError{Field: "trace_id", Message: "is required"}
	}
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return &ValidationError{Field: "idempotency_key", Message: "is required"}
	}
	if !slices.Contains(Tools, p.Tool) {
		return &ValidationError{Field: "tool", Message: fmt.Sprintf("unknown tool %q", p.Tool)}
	}
	switch p.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return &ValidationError{Field: "risk", Message: fmt.Sprintf("unknown risk %q", p.Risk)}
	}
	return nil
}

// InputKeys returns the sorted keys of the input map.
func (p ToolProposal) InputKeys() []string {
	keys := make([]string, 0, len(p.Inputs))
	for k := range p.Inputs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
