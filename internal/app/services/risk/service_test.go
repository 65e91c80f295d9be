package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/risk"
	"github.com/lattice-run/core/internal/app/storage/memory"
)

type fakeAccounts struct {
	known map[string]bool
}

func (f *fakeAccounts) Exists(_ context.Context, accountID string) error {
	if f.known == nil || f.known[accountID] {
		return nil
	}
	return errors.New("account not found")
}

func newTestService(t *testing.T) (*Service, *memory.Store, account.Account) {
	t.Helper()
	store := memory.New()
	acct, err := store.CreateAccount(context.Background(), account.Account{
		UserID:           "user-1",
		ValidationStatus: account.ValidationConnected,
		HealthStatus:     account.HealthHealthy,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	accounts := &fakeAccounts{known: map[string]bool{acct.ID: true}}
	return New(accounts, store, store, nil), store, acct
}

func TestIsExecutionAllowedDefaultsToAllowed(t *testing.T) {
	svc, _, acct := newTestService(t)
	verdict, err := svc.IsExecutionAllowed(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("is execution allowed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected a healthy account to be allowed, got reason %s", verdict.Reason)
	}
}

func TestIsExecutionAllowedVetoesExpiredSession(t *testing.T) {
	svc, store, acct := newTestService(t)
	acct.ValidationStatus = account.ValidationExpired
	if _, err := store.UpdateAccount(context.Background(), acct); err != nil {
		t.Fatalf("update account: %v", err)
	}

	verdict, err := svc.IsExecutionAllowed(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("is execution allowed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != risk.ReasonSessionInvalid {
		t.Fatalf("expected SESSION_INVALID veto, got allowed=%v reason=%s", verdict.Allowed, verdict.Reason)
	}
}

func TestIsExecutionAllowedVetoesSuspendedHealth(t *testing.T) {
	svc, store, acct := newTestService(t)
	acct.HealthStatus = account.HealthSuspended
	if _, err := store.UpdateAccount(context.Background(), acct); err != nil {
		t.Fatalf("update account: %v", err)
	}

	verdict, err := svc.IsExecutionAllowed(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("is execution allowed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != risk.ReasonRiskPause {
		t.Fatalf("expected RISK_PAUSE veto, got allowed=%v reason=%s", verdict.Allowed, verdict.Reason)
	}
}

func TestIsExecutionAllowedVetoesUserPaused(t *testing.T) {
	svc, store, acct := newTestService(t)
	acct.UserPaused = true
	if _, err := store.UpdateAccount(context.Background(), acct); err != nil {
		t.Fatalf("update account: %v", err)
	}

	verdict, err := svc.IsExecutionAllowed(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("is execution allowed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != risk.ReasonUserPaused {
		t.Fatalf("expected USER_PAUSED veto, got allowed=%v reason=%s", verdict.Allowed, verdict.Reason)
	}
}

func TestCalculateRiskScoreAccumulatesViolationsAndVetoesOnCritical(t *testing.T) {
	svc, _, acct := newTestService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "LIKE_POST", 10, time.Hour)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.RecordViolation(ctx, acct.ID, rule.ID, "", "RATE_LIMIT_EXCEEDED", risk.SeverityCritical); err != nil {
			t.Fatalf("record violation %d: %v", i, err)
		}
	}

	score, ok, err := svc.LatestScore(ctx, acct.ID)
	if err != nil {
		t.Fatalf("latest score: %v", err)
	}
	if !ok {
		t.Fatalf("expected a score to have been recorded")
	}
	if score.Level != risk.LevelCritical {
		t.Fatalf("expected CRITICAL level after two critical violations, got %s (value=%.2f)", score.Level, score.Value)
	}

	verdict, err := svc.IsExecutionAllowed(ctx, acct.ID)
	if err != nil {
		t.Fatalf("is execution allowed: %v", err)
	}
	if verdict.Allowed {
		t.Fatalf("expected critical risk score to veto execution")
	}
}

func TestCheckRateLimitVetoesAfterRuleExhausted(t *testing.T) {
	svc, _, acct := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, "LIKE_POST", 2, time.Hour); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	for i := 0; i < 2; i++ {
		verdict, err := svc.CheckRateLimit(ctx, acct.ID, "LIKE_POST")
		if err != nil {
			t.Fatalf("check rate limit %d: %v", i, err)
		}
		if !verdict.Allowed {
			t.Fatalf("expected call %d to be allowed within the rule's burst, got reason %s", i, verdict.Reason)
		}
	}

	verdict, err := svc.CheckRateLimit(ctx, acct.ID, "LIKE_POST")
	if err != nil {
		t.Fatalf("check rate limit: %v", err)
	}
	if verdict.Allowed || verdict.Reason != risk.ReasonRateLimited {
		t.Fatalf("expected RATE_LIMITED veto after exhausting the rule's burst, got allowed=%v reason=%s", verdict.Allowed, verdict.Reason)
	}

	violations, err := svc.ListViolations(ctx, acct.ID, true)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected exactly one recorded violation, got %d", len(violations))
	}
}

func TestCheckRateLimitAllowsWhenNoRuleMatchesActionType(t *testing.T) {
	svc, _, acct := newTestService(t)
	verdict, err := svc.CheckRateLimit(context.Background(), acct.ID, "UNCONFIGURED_ACTION")
	if err != nil {
		t.Fatalf("check rate limit: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected no active rule for the action type to allow by default")
	}
}

func TestAcknowledgeViolationResolvesIt(t *testing.T) {
	svc, _, acct := newTestService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "LIKE_POST", 10, time.Hour)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	v, err := svc.RecordViolation(ctx, acct.ID, rule.ID, "", "RATE_LIMIT_EXCEEDED", risk.SeverityLow)
	if err != nil {
		t.Fatalf("record violation: %v", err)
	}

	if err := svc.AcknowledgeViolation(ctx, v.ID); err != nil {
		t.Fatalf("acknowledge violation: %v", err)
	}

	unresolved, err := svc.ListViolations(ctx, acct.ID, true)
	if err != nil {
		t.Fatalf("list violations: %v", err)
	}
	for _, u := range unresolved {
		if u.ID == v.ID {
			t.Fatalf("expected acknowledged violation to be excluded from unresolved list")
		}
	}
}
