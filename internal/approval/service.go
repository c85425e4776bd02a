package approval

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTTL = 15 * time.Minute
	minTTL     = time.Second

	reasonExpired        = "expired"
	reasonTokenAccepted  = "confirm token accepted"
	defaultDecisionActor = "unknown"
)

// Service orchestrates the pending-action lifecycle. Every operation holds
// one mutex across load, mutate and save.
type Service struct {
	store      *Store
	defaultTTL time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

// NewService creates a service backed by <workspace>/state/pending_actions.json.
func NewService(workspace string) *Service {
	return &Service{
		store:      NewStore(workspace),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetDefaultTTL overrides the expiry applied when CreateInput.TTL is zero.
func (s *Service) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.defaultTTL = ttl
	s.mu.Unlock()
}

// Create inserts a new pending action.
func (s *Service) Create(input CreateInput) (PendingAction, error) {
	if input.Kind != KindApproval && input.Kind != KindConfirm {
		return PendingAction{}, fmt.Errorf("%w: kind %q", ErrInvalidInput, input.Kind)
	}
	if strings.TrimSpace(string(input.Proposal.Tool)) == "" {
		return PendingAction{}, fmt.Errorf("%w: proposal tool is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if ttl < minTTL {
		ttl = minTTL
	}

	data, err := s.store.Load()
	if err != nil {
		return PendingAction{}, err
	}

	now := s.now().UTC()
	action := PendingAction{
		ID:                   uuid.NewString(),
		Kind:                 input.Kind,
		Status:               StatusPending,
		TraceID:              input.Proposal.TraceID,
		IdempotencyKey:       input.Proposal.IdempotencyKey,
		Proposal:             input.Proposal,
		Event:                input.Event,
		DryRunPlan:           input.DryRunPlan,
		RequiresApproval:     input.RequiresApproval,
		RequiresConfirmToken: input.RequiresConfirmToken,
		RequestedBy:          strings.TrimSpace(input.RequestedBy),
		Reason:               strings.TrimSpace(input.Reason),
		CreatedAt:            now,
		UpdatedAt:            now,
		ExpiresAt:            now.Add(ttl),
	}
	if action.RequiresConfirmToken {
		action.ConfirmToken = uuid.NewString()
	}

	data.Actions = append(data.Actions, action)
	if err := s.store.Save(data); err != nil {
		return PendingAction{}, err
	}
	return action, nil
}

// Decide records a human approve or reject verdict on a pending action.
func (s *Service) Decide(id, actorID string, decision Decision, reason string) (PendingAction, error) {
	var next Status
	switch decision {
	case DecisionApprove:
		next = StatusApproved
	case DecisionReject:
		next = StatusRejected
	default:
		return PendingAction{}, fmt.Errorf("%w: decision %q", ErrInvalidInput, decision)
	}

	actionID := strings.TrimSpace(id)
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		actor = defaultDecisionActor
	}
	note := strings.TrimSpace(reason)
	if note == "" {
		note = string(next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return PendingAction{}, err
	}

	action := findByID(data.Actions, actionID)
	if action == nil {
		return PendingAction{}, fmt.Errorf("%w: %s", ErrNotFound, actionID)
	}
	if action.Status != StatusPending {
		return PendingAction{}, fmt.Errorf("%w: %s is %s", ErrNotPending, actionID, action.Status)
	}

	now := s.now().UTC()
	if !now.Before(action.ExpiresAt) {
		expire(action, now)
		if err := s.store.Save(data); err != nil {
			return PendingAction{}, err
		}
		return PendingAction{}, fmt.Errorf("%w: %s", ErrExpired, actionID)
	}

	action.Status = next
	action.DecidedBy = actor
	action.DecidedAt = timePtr(now)
	action.DecisionReason = note
	action.UpdatedAt = now

	if err := s.store.Save(data); err != nil {
		return PendingAction{}, err
	}
	return *action, nil
}

// ConsumeConfirmToken accepts a confirm token once. The owning action must be
// approved when it needs approval and pending otherwise.
func (s *Service) ConsumeConfirmToken(token, actorID string) (PendingAction, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return PendingAction{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return PendingAction{}, err
	}

	var action *PendingAction
	for i := range data.Actions {
		if data.Actions[i].ConfirmToken == token {
			action = &data.Actions[i]
			break
		}
	}
	if action == nil || !action.RequiresConfirmToken {
		return PendingAction{}, ErrNotFound
	}
	if action.RequiresApproval && action.Status != StatusApproved {
		return PendingAction{}, ErrNotFound
	}
	if !action.RequiresApproval && action.Status != StatusPending {
		return PendingAction{}, ErrNotFound
	}
	if action.ConsumedAt != nil {
		return PendingAction{}, ErrNotFound
	}

	now := s.now().UTC()
	if !now.Before(action.ExpiresAt) {
		expire(action, now)
		if err := s.store.Save(data); err != nil {
			return PendingAction{}, err
		}
		return PendingAction{}, ErrNotFound
	}

	if action.DecidedBy == "" {
		action.DecidedBy = strings.TrimSpace(actorID)
	}
	if action.DecidedAt == nil {
		action.DecidedAt = timePtr(now)
	}
	if action.DecisionReason == "" {
		action.DecisionReason = reasonTokenAccepted
	}
	action.ConsumedAt = timePtr(now)
	action.UpdatedAt = now

	if err := s.store.Save(data); err != nil {
		return PendingAction{}, err
	}
	return *action, nil
}

// MarkExecuted finalizes an action after its tool ran.
func (s *Service) MarkExecuted(id string) (PendingAction, error) {
	actionID := strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return PendingAction{}, err
	}

	action := findByID(data.Actions, actionID)
	if action == nil {
		return PendingAction{}, fmt.Errorf("%w: %s", ErrNotFound, actionID)
	}
	if action.RequiresApproval && action.DecidedAt == nil {
		return PendingAction{}, fmt.Errorf("%w: %s requires approval first", ErrNotExecutable, actionID)
	}
	if action.RequiresConfirmToken && action.ConfirmToken == "" {
		return PendingAction{}, fmt.Errorf("%w: %s requires confirm token metadata", ErrNotExecutable, actionID)
	}
	executable := action.Status == StatusApproved ||
		(action.Status == StatusPending && !action.RequiresApproval)
	if !executable {
		return PendingAction{}, fmt.Errorf("%w: %s is %s", ErrNotExecutable, actionID, action.Status)
	}

	action.Status = StatusExecuted
	action.UpdatedAt = s.now().UTC()

	if err := s.store.Save(data); err != nil {
		return PendingAction{}, err
	}
	return *action, nil
}

// Get returns one action with expiry normalized.
func (s *Service) Get(id string) (PendingAction, error) {
	actionID := strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return PendingAction{}, err
	}

	action := findByID(data.Actions, actionID)
	if action == nil {
		return PendingAction{}, fmt.Errorf("%w: %s", ErrNotFound, actionID)
	}
	if normalizeExpiry(action, s.now().UTC()) {
		if err := s.store.Save(data); err != nil {
			return PendingAction{}, err
		}
	}
	return *action, nil
}

// List returns actions newest first, filtered by query values.
func (s *Service) List(query Query) ([]PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	changed := false
	for i := range data.Actions {
		if normalizeExpiry(&data.Actions[i], now) {
			changed = true
		}
	}
	if changed {
		if err := s.store.Save(data); err != nil {
			return nil, err
		}
	}

	result := make([]PendingAction, 0, len(data.Actions))
	for _, action := range data.Actions {
		if query.Status != "" && action.Status != query.Status {
			continue
		}
		if query.Kind != "" && action.Kind != query.Kind {
			continue
		}
		result = append(result, action)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// ExpireStale marks pending actions past their expiry as expired.
func (s *Service) ExpireStale() ([]PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expired := make([]PendingAction, 0)
	for i := range data.Actions {
		action := &data.Actions[i]
		if action.Status != StatusPending || now.Before(action.ExpiresAt) {
			continue
		}
		expire(action, now)
		expired = append(expired, *action)
	}

	if len(expired) > 0 {
		if err := s.store.Save(data); err != nil {
			return nil, err
		}
		slog.Info("pending actions expired", "count", len(expired))
	}
	return expired, nil
}

func findByID(actions []PendingAction, id string) *PendingAction {
	if id == "" {
		return nil
	}
	for i := range actions {
		if actions[i].ID == id {
			return &actions[i]
		}
	}
	return nil
}

func normalizeExpiry(action *PendingAction, now time.Time) bool {
	if action.Status != StatusPending && action.Status != StatusApproved {
		return false
	}
	if now.Before(action.ExpiresAt) {
		return false
	}
	expire(action, now)
	return true
}

func expire(action *PendingAction, now time.Time) {
	action.Status = StatusExpired
	action.UpdatedAt = now
	if action.DecidedAt == nil {
		action.DecidedAt = timePtr(now)
	}
	if action.DecisionReason == "" {
		action.DecisionReason = reasonExpired
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
