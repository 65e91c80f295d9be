package memory

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/agent"
	"github.com/lattice-run/core/internal/app/domain/job"
)

func TestStoreCreateAccountEnforcesOnePerUser(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateAccount(ctx, account.Account{UserID: "user-1"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if _, err := store.CreateAccount(ctx, account.Account{UserID: "user-1"}); err == nil {
		t.Fatalf("expected second account for same user to fail")
	}
}

func TestPullEligibleOrdersByPriorityThenCreatedAt(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	low, _ := store.CreateJob(ctx, job.Job{AccountID: "acct-1", Priority: 1, EarliestExecutionTime: now.Add(-time.Minute)})
	time.Sleep(time.Millisecond)
	high, _ := store.CreateJob(ctx, job.Job{AccountID: "acct-1", Priority: 5, EarliestExecutionTime: now.Add(-time.Minute)})

	batch, err := store.PullEligible(ctx, "acct-1", "agent-1", now, 1)
	if err != nil {
		t.Fatalf("pull eligible: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != high.ID {
		t.Fatalf("expected high priority job first, got %#v", batch)
	}

	batch, err = store.PullEligible(ctx, "acct-1", "agent-1", now, 1)
	if err != nil {
		t.Fatalf("pull eligible: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != low.ID {
		t.Fatalf("expected low priority job second, got %#v", batch)
	}
}

func TestPullEligibleExcludesFutureJobs(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	store.CreateJob(ctx, job.Job{AccountID: "acct-1", EarliestExecutionTime: now.Add(time.Hour)})

	batch, err := store.PullEligible(ctx, "acct-1", "agent-1", now, 5)
	if err != nil {
		t.Fatalf("pull eligible: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected no eligible jobs, got %#v", batch)
	}
}

func TestCommitResultIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	j, _ := store.CreateJob(ctx, job.Job{AccountID: "acct-1", EarliestExecutionTime: now.Add(-time.Minute)})
	batch, _ := store.PullEligible(ctx, "acct-1", "agent-1", now, 5)
	if len(batch) != 1 {
		t.Fatalf("expected job to be pulled")
	}

	res := job.Result{JobID: j.ID, AgentID: "agent-1", Status: job.ResultSuccess}
	first, firstJob, err := store.CommitResult(ctx, res, job.StateCompleted, "", now)
	if err != nil {
		t.Fatalf("commit result: %v", err)
	}
	if firstJob.State != job.StateCompleted {
		t.Fatalf("expected job to be completed, got %s", firstJob.State)
	}

	second, secondJob, err := store.CommitResult(ctx, res, job.StateCompleted, "", now.Add(time.Second))
	if err != nil {
		t.Fatalf("commit result (retry): %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected idempotent commit to return the original result")
	}
	if secondJob.State != job.StateCompleted {
		t.Fatalf("expected job to remain completed")
	}
}

func TestIssueTokenRevokesPrevious(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.IssueToken(ctx, agent.Token{AgentID: "agent-1", AccountID: "acct-1", TokenHash: []byte("hash-1")}); err != nil {
		t.Fatalf("issue first token: %v", err)
	}
	if _, err := store.GetTokenByHash(ctx, []byte("hash-1")); err != nil {
		t.Fatalf("expected first token to be valid: %v", err)
	}

	if _, err := store.IssueToken(ctx, agent.Token{AgentID: "agent-1", AccountID: "acct-1", TokenHash: []byte("hash-2")}); err != nil {
		t.Fatalf("issue second token: %v", err)
	}

	if _, err := store.GetTokenByHash(ctx, []byte("hash-1")); err == nil {
		t.Fatalf("expected first token to be revoked")
	}
	if _, err := store.GetTokenByHash(ctx, []byte("hash-2")); err != nil {
		t.Fatalf("expected second token to be valid: %v", err)
	}
}
