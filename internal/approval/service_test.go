package approval

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MEKXH/gatekeep/internal/bus"
	"github.com/MEKXH/gatekeep/internal/proposal"
)

func testProposal(key string) proposal.ToolProposal {
	return proposal.ToolProposal{
		TraceID:        "trace-" + key,
		Type:           proposal.TypeToolProposal,
		Tool:           proposal.ToolHTTPRequest,
		Risk:           proposal.RiskMedium,
		Inputs:         map[string]any{"url": "https://example.com"},
		Reason:         "fetch status",
		IdempotencyKey: key,
	}
}

func confirmInput(key string) CreateInput {
	p := testProposal(key)
	return CreateInput{
		Kind:                 KindConfirm,
		Proposal:             p,
		Event:                bus.Event{TraceID: p.TraceID, Workspace: "ws", Agent: "ops"},
		Reason:               "medium risk requires confirm token",
		RequestedBy:          "u1",
		DryRunPlan:           PlanFor(p),
		RequiresConfirmToken: true,
		TTL:                  5 * time.Minute,
	}
}

func doubleConfirmInput(key string) CreateInput {
	in := confirmInput(key)
	in.Kind = KindApproval
	in.RequiresApproval = true
	return in
}

func newTestService(t *testing.T, now time.Time) (*Service, *time.Time) {
	t.Helper()
	svc := NewService(t.TempDir())
	current := now
	svc.now = func() time.Time { return current }
	return svc, &current
}

func TestService_CreateSetsGatesAndToken(t *testing.T) {
	fixedNow := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, fixedNow)

	created, err := svc.Create(confirmInput("k1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Status != StatusPending {
		t.Fatalf("expected status %q, got %q", StatusPending, created.Status)
	}
	if created.RequiresApproval || !created.RequiresConfirmToken {
		t.Fatalf("unexpected gates: approval=%v confirm=%v", created.RequiresApproval, created.RequiresConfirmToken)
	}
	if created.ConfirmToken == "" {
		t.Fatal("expected confirm token")
	}
	if !created.ExpiresAt.Equal(fixedNow.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expires_at: %s", created.ExpiresAt)
	}
	if len(created.DryRunPlan.InputKeys) != 1 || created.DryRunPlan.InputKeys[0] != "url" {
		t.Fatalf("unexpected dry run plan: %+v", created.DryRunPlan)
	}

	approvalOnly := doubleConfirmInput("k2")
	approvalOnly.RequiresConfirmToken = false
	created, err = svc.Create(approvalOnly)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ConfirmToken != "" {
		t.Fatalf("expected no token for approval-only action, got %q", created.ConfirmToken)
	}
}

func TestService_CreateDefaultAndMinimumTTL(t *testing.T) {
	now := time.Date(2026, 2, 15, 14, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, now)

	in := confirmInput("k1")
	in.TTL = 0
	req, err := svc.Create(in)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !req.ExpiresAt.Equal(now.Add(defaultTTL)) {
		t.Fatalf("expected expires_at %s, got %s", now.Add(defaultTTL), req.ExpiresAt)
	}

	in = confirmInput("k2")
	in.TTL = time.Millisecond
	req, err = svc.Create(in)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !req.ExpiresAt.Equal(now.Add(time.Second)) {
		t.Fatalf("expected ttl clamped to 1s, got %s", req.ExpiresAt.Sub(now))
	}
}

func TestService_CreateRejectsUnknownKind(t *testing.T) {
	svc := NewService(t.TempDir())
	in := confirmInput("k1")
	in.Kind = "workflow"
	if _, err := svc.Create(in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_ConfirmOnlyTokenSingleUse(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))

	created, err := svc.Create(confirmInput("k1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	consumed, err := svc.ConsumeConfirmToken(created.ConfirmToken, "u1")
	if err != nil {
		t.Fatalf("ConsumeConfirmToken error: %v", err)
	}
	if consumed.DecidedBy != "u1" || consumed.DecisionReason != reasonTokenAccepted {
		t.Fatalf("unexpected decision fields: %+v", consumed)
	}
	if consumed.ConsumedAt == nil {
		t.Fatal("expected consumed_at to be stamped")
	}

	if _, err := svc.ConsumeConfirmToken(created.ConfirmToken, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second consumption to be not found, got %v", err)
	}

	executed, err := svc.MarkExecuted(created.ID)
	if err != nil {
		t.Fatalf("MarkExecuted error: %v", err)
	}
	if executed.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, executed.Status)
	}

	if _, err := svc.ConsumeConfirmToken(created.ConfirmToken, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after execution, got %v", err)
	}
}

func TestService_DoubleConfirmRequiresApprovalFirst(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))

	created, err := svc.Create(doubleConfirmInput("k1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := svc.ConsumeConfirmToken(created.ConfirmToken, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found before approval, got %v", err)
	}
	if _, err := svc.MarkExecuted(created.ID); !errors.Is(err, ErrNotExecutable) {
		t.Fatalf("expected ErrNotExecutable before approval, got %v", err)
	}

	approved, err := svc.Decide(created.ID, "boss", DecisionApprove, "")
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if approved.Status != StatusApproved || approved.DecisionReason != "approved" {
		t.Fatalf("unexpected approved action: %+v", approved)
	}

	consumed, err := svc.ConsumeConfirmToken(created.ConfirmToken, "u1")
	if err != nil {
		t.Fatalf("ConsumeConfirmToken error: %v", err)
	}
	if consumed.DecidedBy != "boss" {
		t.Fatalf("expected first decider kept, got %q", consumed.DecidedBy)
	}
	if _, err := svc.MarkExecuted(created.ID); err != nil {
		t.Fatalf("MarkExecuted error: %v", err)
	}
}

func TestService_DecideFailures(t *testing.T) {
	svc, now := newTestService(t, time.Date(2026, 2, 15, 13, 0, 0, 0, time.UTC))

	if _, err := svc.Decide("missing", "boss", DecisionApprove, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first, err := svc.Create(doubleConfirmInput("k1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Decide(first.ID, "boss", DecisionReject, "not needed"); err != nil {
		t.Fatalf("reject error: %v", err)
	}
	if _, err := svc.Decide(first.ID, "boss", DecisionApprove, ""); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if _, err := svc.Decide(first.ID, "boss", "maybe", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	second, err := svc.Create(doubleConfirmInput("k2"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	*now = now.Add(10 * time.Minute)
	if _, err := svc.Decide(second.ID, "boss", DecisionApprove, ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	got, err := svc.Get(second.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusExpired || got.DecisionReason != reasonExpired {
		t.Fatalf("expected persisted expiry, got %+v", got)
	}
}

func TestService_ConsumeAfterExpiryFlipsToExpired(t *testing.T) {
	svc, now := newTestService(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))

	created, err := svc.Create(confirmInput("k1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	*now = now.Add(5 * time.Minute)
	if _, err := svc.ConsumeConfirmToken(created.ConfirmToken, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expired, err := svc.List(Query{Status: StatusExpired})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != created.ID {
		t.Fatalf("expected expired action, got %+v", expired)
	}
}

func TestService_ListNormalizesApprovedExpiry(t *testing.T) {
	svc, now := newTestService(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))

	created, err := svc.Create(doubleConfirmInput("k1"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Decide(created.ID, "boss", DecisionApprove, ""); err != nil {
		t.Fatalf("Decide error: %v", err)
	}

	*now = now.Add(time.Hour)
	list, err := svc.List(Query{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if list[0].Status != StatusExpired {
		t.Fatalf("expected approved action to expire lazily, got %q", list[0].Status)
	}
	if list[0].DecidedBy != "boss" {
		t.Fatalf("expected decider kept, got %q", list[0].DecidedBy)
	}
}

func TestService_ListFiltersAndOrdersNewestFirst(t *testing.T) {
	workspace := t.TempDir()
	svc := NewService(workspace)
	now := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	var ids []string
	for i, in := range []CreateInput{confirmInput("k1"), doubleConfirmInput("k2"), confirmInput("k3")} {
		now = now.Add(time.Duration(i) * time.Second)
		created, err := svc.Create(in)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		ids = append(ids, created.ID)
	}

	confirms, err := svc.List(Query{Kind: KindConfirm})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(confirms) != 2 || confirms[0].ID != ids[2] || confirms[1].ID != ids[0] {
		t.Fatalf("unexpected confirm ordering: %+v", confirms)
	}

	limited, err := svc.List(Query{Limit: 1})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != ids[2] {
		t.Fatalf("expected newest action only, got %+v", limited)
	}

	reloaded := NewService(workspace)
	all, err := reloaded.List(Query{})
	if err != nil {
		t.Fatalf("List after reload error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 persisted actions, got %d", len(all))
	}
}

func TestService_ExpireStaleOnlyTouchesPending(t *testing.T) {
	svc, now := newTestService(t, time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC))

	soon := confirmInput("k1")
	soon.TTL = 30 * time.Second
	expiringSoon, err := svc.Create(soon)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	stillPending, err := svc.Create(confirmInput("k2"))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	approvedSoon := doubleConfirmInput("k3")
	approvedSoon.TTL = 30 * time.Second
	approved, err := svc.Create(approvedSoon)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Decide(approved.ID, "boss", DecisionApprove, ""); err != nil {
		t.Fatalf("Decide error: %v", err)
	}

	*now = now.Add(31 * time.Second)
	expired, err := svc.ExpireStale()
	if err != nil {
		t.Fatalf("ExpireStale error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != expiringSoon.ID {
		t.Fatalf("expected only %q expired, got %+v", expiringSoon.ID, expired)
	}

	pending, err := svc.List(Query{Status: StatusPending})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != stillPending.ID {
		t.Fatalf("expected %q still pending, got %+v", stillPending.ID, pending)
	}
}

func TestService_MarkExecutedMissing(t *testing.T) {
	svc := NewService(t.TempDir())
	if _, err := svc.MarkExecuted("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	sw := NewSweeper(NewService(t.TempDir()), 10*time.Millisecond)
	sw.Start()
	if !sw.IsRunning() {
		t.Fatal("expected sweeper to run")
	}
	sw.Start()
	sw.Stop()
	if sw.IsRunning() {
		t.Fatal("expected sweeper to stop")
	}
	sw.Stop()
}

func TestService_UnsetTimestampsAreOmitted(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	if _, err := svc.Create(confirmInput("k-omit")); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	raw, err := os.ReadFile(svc.store.Path())
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	for _, field := range []string{`"consumed_at"`, `"decided_at"`} {
		if strings.Contains(string(raw), field) {
			t.Fatalf("expected %q absent from fresh ledger entry:\n%s", field, raw)
		}
	}
}
