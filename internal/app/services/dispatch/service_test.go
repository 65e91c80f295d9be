package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lattice-run/core/internal/app/domain/job"
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

type fakeRiskOracle struct {
	verdict     risk.Verdict
	err         error
	rateVerdict risk.Verdict
	rateErr     error
}

func (f *fakeRiskOracle) IsExecutionAllowed(_ context.Context, _ string) (risk.Verdict, error) {
	return f.verdict, f.err
}

func (f *fakeRiskOracle) CheckRateLimit(_ context.Context, _, _ string) (risk.Verdict, error) {
	if f.rateVerdict == (risk.Verdict{}) {
		return risk.Verdict{Allowed: true}, f.rateErr
	}
	return f.rateVerdict, f.rateErr
}

func newTestService(t *testing.T, oracle RiskOracle) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	accounts := &fakeAccounts{known: map[string]bool{"acct-1": true}}
	return New(accounts, store, store, oracle, nil), store
}

func TestCreateJobValidatesParametersByType(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateJob(ctx, "acct-1", "user-1", job.TypeLikePost, map[string]string{}, 0, time.Time{}, 0); err == nil {
		t.Fatalf("expected missing postUrl to be rejected")
	}

	j, err := svc.CreateJob(ctx, "acct-1", "user-1", job.TypeLikePost, map[string]string{"postUrl": "https://example.com/p/1"}, 0, time.Time{}, 0)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if j.State != job.StatePending {
		t.Fatalf("expected new job to be PENDING, got %s", j.State)
	}
	if j.TimeoutSeconds != 120 {
		t.Fatalf("expected default timeout of 120s, got %d", j.TimeoutSeconds)
	}
}

func TestCreateJobSurfacesRateLimitVeto(t *testing.T) {
	oracle := &fakeRiskOracle{
		verdict:     risk.Verdict{Allowed: true},
		rateVerdict: risk.Verdict{Allowed: false, Reason: risk.ReasonRateLimited},
	}
	svc, _ := newTestService(t, oracle)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, "acct-1", "user-1", job.TypeLikePost, map[string]string{"postUrl": "https://example.com/p/1"}, 0, time.Time{}, 0)
	if err == nil {
		t.Fatalf("expected rate-limit veto error")
	}
	var veto *RiskVeto
	if !errors.As(err, &veto) {
		t.Fatalf("expected a *RiskVeto, got %T: %v", err, err)
	}
	if veto.Reason != risk.ReasonRateLimited {
		t.Fatalf("expected RATE_LIMITED reason, got %s", veto.Reason)
	}
}

func TestPullJobsSurfacesRiskVeto(t *testing.T) {
	oracle := &fakeRiskOracle{verdict: risk.Verdict{Allowed: false, Reason: risk.ReasonRiskPause}}
	svc, _ := newTestService(t, oracle)
	ctx := context.Background()

	_, err := svc.PullJobs(ctx, "agent-1", "acct-1", 0)
	if err == nil {
		t.Fatalf("expected risk veto error")
	}
	var veto *RiskVeto
	if !errors.As(err, &veto) {
		t.Fatalf("expected error to be a *RiskVeto, got %T", err)
	}
	if veto.Reason != risk.ReasonRiskPause {
		t.Fatalf("expected RISK_PAUSE reason, got %s", veto.Reason)
	}
}

func TestPullJobsAssignsEligibleJobs(t *testing.T) {
	oracle := &fakeRiskOracle{verdict: risk.Verdict{Allowed: true}}
	svc, _ := newTestService(t, oracle)
	ctx := context.Background()

	if _, err := svc.CreateJob(ctx, "acct-1", "user-1", job.TypeLikePost, map[string]string{"postUrl": "https://example.com/p/1"}, 0, time.Time{}, 0); err != nil {
		t.Fatalf("create job: %v", err)
	}

	jobs, err := svc.PullJobs(ctx, "agent-1", "acct-1", 0)
	if err != nil {
		t.Fatalf("pull jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected one job assigned, got %d", len(jobs))
	}
	if jobs[0].AssignedAgentID != "agent-1" {
		t.Fatalf("expected job assigned to agent-1, got %s", jobs[0].AssignedAgentID)
	}

	more, err := svc.PullJobs(ctx, "agent-1", "acct-1", 0)
	if err != nil {
		t.Fatalf("pull jobs again: %v", err)
	}
	if len(more) != 0 {
		t.Fatalf("expected no further eligible jobs, got %d", len(more))
	}
}

func TestSubmitResultIsIdempotentAndFiresSessionExpiredHook(t *testing.T) {
	oracle := &fakeRiskOracle{verdict: risk.Verdict{Allowed: true}}
	svc, _ := newTestService(t, oracle)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, "acct-1", "user-1", job.TypeLikePost, map[string]string{"postUrl": "https://example.com/p/1"}, 0, time.Time{}, 0)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := svc.PullJobs(ctx, "agent-1", "acct-1", 0); err != nil {
		t.Fatalf("pull jobs: %v", err)
	}

	var hookAccountID, hookJobID string
	hooks := ResultHooks{OnSessionExpired: func(_ context.Context, accountID, jobID string) {
		hookAccountID, hookJobID = accountID, jobID
	}}

	res, err := svc.SubmitResult(ctx, "agent-1", j.ID, job.ResultFailed, job.FailureSessionExpired, job.ObservedNone, hooks)
	if err != nil {
		t.Fatalf("submit result: %v", err)
	}
	if hookAccountID != "acct-1" || hookJobID != j.ID {
		t.Fatalf("expected session-expired hook to fire with (acct-1, %s), got (%s, %s)", j.ID, hookAccountID, hookJobID)
	}

	again, err := svc.SubmitResult(ctx, "agent-1", j.ID, job.ResultFailed, job.FailureSessionExpired, job.ObservedNone, ResultHooks{})
	if err != nil {
		t.Fatalf("resubmit result: %v", err)
	}
	if again.ID != res.ID {
		t.Fatalf("expected idempotent resubmit to return the original result")
	}

	finalJob, err := svc.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if finalJob.State != job.StateFailed {
		t.Fatalf("expected job to be FAILED, got %s", finalJob.State)
	}
}
