// Package dispatch implements the Job Dispatcher: eligibility, assignment,
// the job state machine, and the atomic result-commit operation. This is the
// central piece the rest of the system serves.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	core "github.com/lattice-run/core/internal/app/core/service"
	"github.com/lattice-run/core/internal/app/domain/audit"
	"github.com/lattice-run/core/internal/app/domain/job"
	"github.com/lattice-run/core/internal/app/domain/risk"
	"github.com/lattice-run/core/internal/app/metrics"
	"github.com/lattice-run/core/internal/app/storage"
	"github.com/lattice-run/core/pkg/logger"
)

// DefaultMaxBatch is used when a caller requests a pull with maxBatch <= 0.
const DefaultMaxBatch = 5

// pullRetryPolicy retries the eligibility/assignment query a few times on
// contention from concurrent pulls against the same account before giving up.
var pullRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     100 * time.Millisecond,
	Multiplier:     2,
}

// RiskVeto is returned when the Risk Oracle currently refuses execution for
// the account, so the wire layer can surface it as 409 SESSION_INVALID for a
// session veto, 429 RATE_LIMITED carrying Limit/Window for a rate-limit veto,
// or 503 RISK_PAUSED for any other reason, instead of silently failing the
// call.
type RiskVeto struct {
	Reason risk.Reason
	Limit  int
	Window time.Duration
}

func (e *RiskVeto) Error() string {
	return fmt.Sprintf("risk oracle vetoed execution: %s", e.Reason)
}

// RiskOracle is the subset of the Risk Oracle the Dispatcher consults.
type RiskOracle interface {
	IsExecutionAllowed(ctx context.Context, accountID string) (risk.Verdict, error)
	CheckRateLimit(ctx context.Context, accountID, actionType string) (risk.Verdict, error)
}

// Service is the Job Dispatcher.
type Service struct {
	base       *core.Base
	store      storage.JobStore
	audit      storage.AuditStore
	riskOracle RiskOracle
	log        *logger.Logger
	hooks      core.DispatchHooks
}

// New creates a configured job dispatcher. Job creation, the ASSIGNED to
// EXECUTING transition and the result commit are wrapped with
// core.StartDispatch against a default ObservationHooks pair that logs
// start/completion at debug level and duration on every call; the PENDING to
// ASSIGNED pull is not wrapped.
func New(accountsSvc interface {
	Exists(ctx context.Context, accountID string) error
}, store storage.JobStore, auditStore storage.AuditStore, riskOracle RiskOracle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("dispatch")
	}
	s := &Service{
		base:       core.NewBase(accountsSvc.Exists),
		store:      store,
		audit:      auditStore,
		riskOracle: riskOracle,
		log:        log,
	}
	s.hooks = core.DispatchHooks{
		OnStart: func(_ context.Context, meta map[string]string) {
			s.log.WithFields(logrus.Fields{"op": meta["op"], "job_id": meta["job_id"]}).Debug("dispatch transition started")
		},
		OnComplete: func(_ context.Context, meta map[string]string, err error, duration time.Duration) {
			entry := s.log.WithFields(logrus.Fields{"op": meta["op"], "job_id": meta["job_id"], "duration_ms": duration.Milliseconds()})
			if err != nil {
				entry.WithError(err).Warn("dispatch transition failed")
				return
			}
			entry.Debug("dispatch transition completed")
		},
	}
	return s
}

// CreateJob validates the target account, persists a PENDING job, and emits
// an Audit entry.
func (s *Service) CreateJob(ctx context.Context, accountID, createdByUserID string, jobType job.Type, parameters map[string]string, priority int, earliestExecutionTime time.Time, timeoutSeconds int) (job.Job, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return job.Job{}, err
	}
	createdByUserID = strings.TrimSpace(createdByUserID)
	if createdByUserID == "" {
		return job.Job{}, fmt.Errorf("created_by_user_id is required")
	}
	if err := validateParameters(jobType, parameters); err != nil {
		return job.Job{}, err
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}

	if s.riskOracle != nil {
		verdict, err := s.riskOracle.CheckRateLimit(ctx, accountID, string(jobType))
		if err != nil {
			return job.Job{}, err
		}
		if !verdict.Allowed {
			return job.Job{}, &RiskVeto{Reason: verdict.Reason, Limit: verdict.Limit, Window: verdict.Window}
		}
	}

	done := core.StartDispatch(ctx, s.hooks, map[string]string{"op": "CreateJob", "account_id": accountID})
	j, err := s.store.CreateJob(ctx, job.Job{
		AccountID:             accountID,
		CreatedByUserID:       createdByUserID,
		Type:                  jobType,
		Parameters:            parameters,
		State:                 job.StatePending,
		Priority:              priority,
		EarliestExecutionTime: earliestExecutionTime,
		TimeoutSeconds:        timeoutSeconds,
	})
	done(err)
	if err != nil {
		return job.Job{}, err
	}
	s.appendAudit(ctx, j.ID, accountID, "JOB_CREATED", audit.ActorUser, createdByUserID)
	return j, nil
}

// PullJobs consults the Risk Oracle veto first, then atomically selects and
// assigns up to maxBatch eligible jobs.
func (s *Service) PullJobs(ctx context.Context, agentID, accountID string, maxBatch int) ([]job.Job, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	if s.riskOracle != nil {
		verdict, err := s.riskOracle.IsExecutionAllowed(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !verdict.Allowed {
			return nil, &RiskVeto{Reason: verdict.Reason}
		}
	}

	now := time.Now().UTC()
	var jobs []job.Job
	err = core.Retry(ctx, pullRetryPolicy, func() error {
		var pullErr error
		jobs, pullErr = s.store.PullEligible(ctx, accountID, agentID, now, maxBatch)
		return pullErr
	})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.appendAudit(ctx, j.ID, accountID, "JOB_ASSIGNED", audit.ActorAgent, agentID)
		metrics.RecordJobAssigned(string(j.Type))
	}
	return jobs, nil
}

// RecordEvent appends an agent-reported milestone to the audit log and, on
// ACTION_STARTED, transitions an ASSIGNED job to EXECUTING.
func (s *Service) RecordEvent(ctx context.Context, agentID, jobID string, eventType, message string, ts time.Time) error {
	jobID = strings.TrimSpace(jobID)
	agentID = strings.TrimSpace(agentID)
	if jobID == "" || agentID == "" {
		return fmt.Errorf("job_id and agent_id are required")
	}

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.AssignedAgentID != agentID {
		return fmt.Errorf("job %s is not assigned to agent %s", jobID, agentID)
	}

	if eventType == job.EventActionStarted && j.State == job.StateAssigned {
		done := core.StartDispatch(ctx, s.hooks, map[string]string{"op": "TransitionToExecuting", "job_id": jobID})
		_, err := s.store.TransitionToExecuting(ctx, jobID, agentID, ts.UTC())
		done(err)
		if err != nil {
			return err
		}
	}

	if s.audit != nil {
		_, err := s.audit.Append(ctx, audit.Entry{
			Domain:     "dispatch",
			EventType:  eventType,
			EntityType: "Job",
			EntityID:   jobID,
			ActorType:  audit.ActorAgent,
			ActorID:    agentID,
			Payload:    map[string]string{"message": message},
			Timestamp:  ts.UTC(),
		})
		if err != nil {
			s.log.WithError(err).WithField("job_id", jobID).Warn("failed to append audit entry")
		}
	}
	return nil
}

// ResultHooks lets cross-subsystem notifications on SESSION_EXPIRED be wired
// without this package importing the accounts/risk packages directly.
type ResultHooks struct {
	OnSessionExpired func(ctx context.Context, accountID, jobID string)
}

// SubmitResult is the idempotent terminal-state commit. A retried result for
// an already-resolved job is returned verbatim without mutation.
func (s *Service) SubmitResult(ctx context.Context, agentID, jobID string, status job.ResultStatus, failureReason job.FailureReason, observedState job.ObservedState, hooks ResultHooks) (job.Result, error) {
	jobID = strings.TrimSpace(jobID)
	agentID = strings.TrimSpace(agentID)
	if jobID == "" || agentID == "" {
		return job.Result{}, fmt.Errorf("job_id and agent_id are required")
	}

	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return job.Result{}, err
	}
	if j.AssignedAgentID != agentID {
		return job.Result{}, fmt.Errorf("job %s is not assigned to agent %s", jobID, agentID)
	}

	if existing, ok, err := s.store.GetResult(ctx, jobID); err != nil {
		return job.Result{}, err
	} else if ok {
		return existing, nil
	}

	if j.State != job.StateAssigned && j.State != job.StateExecuting {
		return job.Result{}, fmt.Errorf("job %s is in state %s, cannot submit a result", jobID, j.State)
	}

	var terminal job.State
	switch status {
	case job.ResultSuccess:
		terminal = job.StateCompleted
	case job.ResultFailed:
		terminal = job.StateFailed
	case job.ResultSkipped:
		terminal = job.StateSkipped
	default:
		return job.Result{}, fmt.Errorf("unknown result status %q", status)
	}

	now := time.Now().UTC()
	done := core.StartDispatch(ctx, s.hooks, map[string]string{"op": "CommitResult", "job_id": jobID})
	res, updated, err := s.store.CommitResult(ctx, job.Result{
		JobID:         jobID,
		AgentID:       agentID,
		Status:        status,
		ObservedState: observedState,
		FailureReason: failureReason,
		CompletedAt:   now,
	}, terminal, failureReason, now)
	done(err)
	if err != nil {
		return job.Result{}, err
	}

	s.appendAudit(ctx, jobID, updated.AccountID, "JOB_"+string(terminal), audit.ActorAgent, agentID)
	metrics.RecordJobTerminal(string(j.Type), string(terminal))

	if failureReason == job.FailureSessionExpired && hooks.OnSessionExpired != nil {
		hooks.OnSessionExpired(ctx, updated.AccountID, jobID)
	}
	return res, nil
}

// GetJob fetches a job by identifier.
func (s *Service) GetJob(ctx context.Context, id string) (job.Job, error) {
	return s.store.GetJob(ctx, id)
}

// GetResult fetches the committed result for a job, if one exists.
func (s *Service) GetResult(ctx context.Context, jobID string) (job.Result, bool, error) {
	return s.store.GetResult(ctx, jobID)
}

// ListJobs lists jobs for an account.
func (s *Service) ListJobs(ctx context.Context, accountID string, limit int) ([]job.Job, error) {
	accountID, err := s.base.NormalizeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	limit = core.ClampLimit(limit, 50, core.MaxListLimit)
	return s.store.ListJobs(ctx, accountID, limit)
}

func (s *Service) appendAudit(ctx context.Context, jobID, accountID, eventType string, actorType audit.ActorType, actorID string) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Append(ctx, audit.Entry{
		Domain:     "dispatch",
		EventType:  eventType,
		EntityType: "Job",
		EntityID:   jobID,
		ActorType:  actorType,
		ActorID:    actorID,
		Payload:    map[string]string{"account_id": accountID},
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Warn("failed to append audit entry")
	}
}

// validateParameters checks parameters against the tagged variant required by
// jobType. Each type requires a fixed, non-empty set of keys; extra keys are
// tolerated.
func validateParameters(jobType job.Type, parameters map[string]string) error {
	required := map[job.Type][]string{
		job.TypeVisitProfile:          {"profileUrl"},
		job.TypeSendConnectionRequest: {"profileUrl"},
		job.TypeLikePost:              {"postUrl"},
		job.TypeCommentPost:           {"postUrl", "messageText"},
		job.TypeSendMessage:           {"profileUrl", "messageText"},
	}
	keys, ok := required[jobType]
	if !ok {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	for _, key := range keys {
		if strings.TrimSpace(parameters[key]) == "" {
			return fmt.Errorf("parameter %q is required for job type %s", key, jobType)
		}
	}
	return nil
}

// Descriptor advertises the service placement and capabilities.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "dispatch",
		Domain:       "dispatch",
		Layer:        core.LayerEngine,
		Capabilities: []string{"jobs", "assignment", "state-machine"},
	}
}
