package policy

import (
	"slices"
	"strings"
)

// Role is a subject role carried on an inbound event.
type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleApprover Role = "approver"
	RoleAdmin    Role = "admin"
)

const (
	CapChatSend        = "chat:send"
	CapToolLow         = "tool:low"
	CapToolMedium      = "tool:medium"
	CapToolHigh        = "tool:high"
	CapApproveHighRisk = "approve:high-risk"
)

var roleCapabilities = map[Role][]string{
	RoleUser:     {CapChatSend},
	RoleOperator: {CapChatSend, CapToolLow, CapToolMedium},
	RoleApprover: {CapChatSend, CapApproveHighRisk},
	RoleAdmin:    {CapChatSend, CapToolLow, CapToolMedium, CapToolHigh, CapApproveHighRisk},
}

// HasCapability reports whether any of the roles grants capability.
// Unknown roles grant nothing.
func HasCapability(roles []string, capability string) bool {
	for _, role := range roles {
		if slices.Contains(roleCapabilities[normalizeRole(role)], capability) {
			return true
		}
	}
	return false
}

// Capabilities returns the sorted union of capabilities granted by roles.
func Capabilities(roles []string) []string {
	seen := make(map[string]struct{})
	for _, role := range roles {
		for _, c := range roleCapabilities[normalizeRole(role)] {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Roles returns the known roles in ascending privilege order.
func Roles() []Role {
	return []Role{RoleUser, RoleOperator, RoleApprover, RoleAdmin}
}

func normalizeRole(role string) Role {
	return Role(strings.ToLower(strings.TrimSpace(role)))
}
