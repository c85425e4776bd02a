package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MEKXH/gatekeep/internal/bus"
)

var (
	// ErrIgnored marks payloads that carry nothing to route, such as edits
	// or service messages.
	ErrIgnored = errors.New("payload carries no routable message")
	// ErrSenderNotAllowed marks senders outside the connector allowlist.
	ErrSenderNotAllowed = errors.New("sender is not allowed")
)

// Connector translates one chat platform to and from events.
type Connector interface {
	Name() string
	ToEvent(raw []byte) (bus.Event, error)
	SendReply(ctx context.Context, threadID, text string) error
}

// Receiver is a connector that pulls its own updates, e.g. by long polling.
type Receiver interface {
	Connector
	Receive(ctx context.Context, deliver func(context.Context, bus.Event)) error
	Stop(ctx context.Context) error
}

// WebhookVerifier is a connector that authenticates pushed payloads.
type WebhookVerifier interface {
	VerifyWebhook(r *http.Request) bool
}

// AllowList permits sender ids. An empty list allows everyone.
type AllowList map[string]bool

// NewAllowList builds an allowlist from configured ids or @usernames.
func NewAllowList(ids []string) AllowList {
	allow := make(AllowList, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			allow[id] = true
		}
	}
	return allow
}

// Allows checks a sender. senderID may be "id|username" so either part
// can match an entry.
func (a AllowList) Allows(senderID string) bool {
	if len(a) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for allowed := range a {
		trimmed := strings.TrimPrefix(allowed, "@")
		if allowed == senderID || trimmed == senderID ||
			allowed == idPart || trimmed == idPart ||
			(userPart != "" && (allowed == userPart || trimmed == userPart)) {
			return true
		}
	}
	return false
}
