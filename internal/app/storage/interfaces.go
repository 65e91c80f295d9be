// Package storage defines the persistence boundary each subsystem writes
// through. Every store interface is owned by exactly one service; cross-
// subsystem reads go through these interfaces, never through a shared table.
package storage

import (
	"context"
	"time"

	"github.com/lattice-run/core/internal/app/domain/account"
	"github.com/lattice-run/core/internal/app/domain/agent"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/domain/identity"
	"github.com/lattice-run/core/internal/app/domain/job"
	"github.com/lattice-run/core/internal/app/domain/risk"
)

// UserStore persists users resolved by the identity subsystem.
type UserStore interface {
	CreateUser(ctx context.Context, u identity.User) (identity.User, error)
	GetUser(ctx context.Context, id string) (identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
}

// AccountStore persists the one-per-user account binding.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByUserID(ctx context.Context, userID string) (account.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]account.Account, error)
}

// AgentStore persists agents and their bearer tokens.
type AgentStore interface {
	UpsertAgent(ctx context.Context, ag agent.Agent) (agent.Agent, error)
	GetAgent(ctx context.Context, id string) (agent.Agent, error)
	GetAgentByAccount(ctx context.Context, accountID string) (agent.Agent, error)
	UpdateAgentHeartbeat(ctx context.Context, agentID string, state agent.State, at time.Time) error
	TerminateAgent(ctx context.Context, agentID string, at time.Time) error

	// IssueToken revokes any non-revoked token bound to agentID and inserts tok
	// in the same atomic step, so at most one live token exists per agent.
	IssueToken(ctx context.Context, tok agent.Token) (agent.Token, error)
	GetTokenByHash(ctx context.Context, tokenHash []byte) (agent.Token, error)
	RevokeToken(ctx context.Context, tokenID string, at time.Time) error
}

// JobStore persists jobs and owns the eligibility/assignment transitions.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, accountID string, limit int) ([]job.Job, error)

	// PullEligible selects up to maxBatch PENDING, due, unassigned jobs for
	// accountID ordered by (priority DESC, createdAt ASC, id ASC) and
	// atomically transitions each selected row to ASSIGNED. Jobs raced by a
	// concurrent puller are silently excluded from the result.
	PullEligible(ctx context.Context, accountID, agentID string, now time.Time, maxBatch int) ([]job.Job, error)

	// TransitionToExecuting moves a job from ASSIGNED to EXECUTING if agentID
	// is its assignee; it is a no-op (not an error) if already EXECUTING.
	TransitionToExecuting(ctx context.Context, jobID, agentID string, at time.Time) (job.Job, error)

	// CommitResult atomically inserts res and advances the owning job to a
	// terminal state in one transaction. If a result already exists for
	// res.JobID, the existing result is returned unchanged (idempotent retry).
	CommitResult(ctx context.Context, res job.Result, terminal job.State, failureReason job.FailureReason, at time.Time) (job.Result, job.Job, error)

	GetResult(ctx context.Context, jobID string) (job.Result, bool, error)
}

// RiskStore persists rate-limit rules, violations, and the risk-score history.
type RiskStore interface {
	CreateRule(ctx context.Context, r risk.Rule) (risk.Rule, error)
	ListActiveRules(ctx context.Context, actionType string) ([]risk.Rule, error)
	GetRule(ctx context.Context, id string) (risk.Rule, error)

	RecordViolation(ctx context.Context, v risk.Violation) (risk.Violation, error)
	GetViolation(ctx context.Context, id string) (risk.Violation, error)
	ListViolations(ctx context.Context, accountID string, onlyUnresolved bool, since time.Time) ([]risk.Violation, error)
	ResolveViolation(ctx context.Context, id string, at time.Time) error

	SaveScore(ctx context.Context, s risk.Score) (risk.Score, error)
	LatestScore(ctx context.Context, accountID string) (risk.Score, bool, error)
}

// AuditStore is the append-only sink every subsystem writes domain events to.
type AuditStore interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
	Query(ctx context.Context, filter AuditFilter, limit int) ([]audit.Entry, error)
}

// AuditFilter narrows an audit query. Zero-value fields are not filtered on.
type AuditFilter struct {
	Domain     string
	EntityType string
	EntityID   string
}
