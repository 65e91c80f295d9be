package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/domain/job"
)

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.EarliestExecutionTime.IsZero() {
		j.EarliestExecutionTime = j.CreatedAt
	}
	if j.Parameters == nil {
		j.Parameters = map[string]string{}
	}
	parameters, err := json.Marshal(j.Parameters)
	if err != nil {
		return job.Job{}, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (id, account_id, created_by_user_id, assigned_agent_id, type, parameters,
		                   state, priority, earliest_execution_time, timeout_seconds, created_at,
		                   assigned_at, started_at, completed_at, failure_reason)
		VALUES (:id, :account_id, :created_by_user_id, :assigned_agent_id, :type, :parameters,
		        :state, :priority, :earliest_execution_time, :timeout_seconds, :created_at,
		        :assigned_at, :started_at, :completed_at, :failure_reason)
	`, map[string]interface{}{
		"id": j.ID, "account_id": j.AccountID, "created_by_user_id": j.CreatedByUserID,
		"assigned_agent_id": toNullString(j.AssignedAgentID), "type": j.Type, "parameters": parameters,
		"state": j.State, "priority": j.Priority, "earliest_execution_time": j.EarliestExecutionTime,
		"timeout_seconds": j.TimeoutSeconds, "created_at": j.CreatedAt,
		"assigned_at": toNullTime(j.AssignedAt), "started_at": toNullTime(j.StartedAt),
		"completed_at": toNullTime(j.CompletedAt), "failure_reason": j.FailureReason,
	})
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

const jobSelect = `
	SELECT id, account_id, created_by_user_id, assigned_agent_id, type, parameters, state, priority,
	       earliest_execution_time, timeout_seconds, created_at, assigned_at, started_at, completed_at, failure_reason
	FROM jobs`

func scanJob(row rowScanner) (job.Job, error) {
	var (
		j               job.Job
		assignedAgentID sql.NullString
		parameters      []byte
		assignedAt      sql.NullTime
		startedAt       sql.NullTime
		completedAt     sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.AccountID, &j.CreatedByUserID, &assignedAgentID, &j.Type, &parameters,
		&j.State, &j.Priority, &j.EarliestExecutionTime, &j.TimeoutSeconds, &j.CreatedAt,
		&assignedAt, &startedAt, &completedAt, &j.FailureReason); err != nil {
		return job.Job{}, err
	}
	j.AssignedAgentID = assignedAgentID.String
	j.AssignedAt = assignedAt.Time
	j.StartedAt = startedAt.Time
	j.CompletedAt = completedAt.Time
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &j.Parameters); err != nil {
			return job.Job{}, err
		}
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, jobSelect+` WHERE id = $1`, id))
}

func (s *Store) ListJobs(ctx context.Context, accountID string, limit int) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelect+`
		WHERE ($1 = '' OR account_id::text = $1) ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// PullEligible selects up to maxBatch eligible jobs and assigns them to
// agentID in one statement, using SKIP LOCKED so concurrent pullers never
// block on or double-claim a row.
func (s *Store) PullEligible(ctx context.Context, accountID, agentID string, now time.Time, maxBatch int) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH eligible AS (
			SELECT id FROM jobs
			WHERE account_id = $1 AND state = 'PENDING' AND assigned_agent_id IS NULL
			  AND earliest_execution_time <= $2
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET state = 'ASSIGNED', assigned_agent_id = $4, assigned_at = $2
		WHERE id IN (SELECT id FROM eligible)
		RETURNING id, account_id, created_by_user_id, assigned_agent_id, type, parameters, state, priority,
		          earliest_execution_time, timeout_seconds, created_at, assigned_at, started_at, completed_at, failure_reason
	`, accountID, now, maxBatch, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) TransitionToExecuting(ctx context.Context, jobID, agentID string, at time.Time) (job.Job, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = 'EXECUTING', started_at = $3
		WHERE id = $1 AND assigned_agent_id = $2 AND state IN ('ASSIGNED', 'EXECUTING')
	`, jobID, agentID, at)
	if err != nil {
		return job.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return job.Job{}, errNotFound
	}
	return s.GetJob(ctx, jobID)
}

// CommitResult inserts res and advances the owning job to terminal in one
// transaction. A duplicate insert (job_id already has a result) returns the
// existing result unchanged rather than erroring, so agent retries are safe.
func (s *Store) CommitResult(ctx context.Context, res job.Result, terminal job.State, failureReason job.FailureReason, at time.Time) (job.Result, job.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return job.Result{}, job.Job{}, err
	}
	defer tx.Rollback()

	existing, err := scanResult(tx.QueryRowContext(ctx, resultSelect+` WHERE job_id = $1`, res.JobID))
	if err == nil {
		j, err := scanJob(tx.QueryRowContext(ctx, jobSelect+` WHERE id = $1`, res.JobID))
		if err != nil {
			return job.Result{}, job.Job{}, err
		}
		if err := tx.Commit(); err != nil {
			return job.Result{}, job.Job{}, err
		}
		return existing, j, nil
	}
	if err != sql.ErrNoRows {
		return job.Result{}, job.Job{}, err
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = at
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_results (id, job_id, agent_id, status, observed_state, failure_reason, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.ID, res.JobID, res.AgentID, res.Status, res.ObservedState, res.FailureReason, res.CompletedAt); err != nil {
		return job.Result{}, job.Job{}, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = $2, completed_at = $3, failure_reason = $4 WHERE id = $1
	`, res.JobID, terminal, res.CompletedAt, string(failureReason))
	if err != nil {
		return job.Result{}, job.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return job.Result{}, job.Job{}, errNotFound
	}

	j, err := scanJob(tx.QueryRowContext(ctx, jobSelect+` WHERE id = $1`, res.JobID))
	if err != nil {
		return job.Result{}, job.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return job.Result{}, job.Job{}, err
	}
	return res, j, nil
}

const resultSelect = `
	SELECT id, job_id, agent_id, status, observed_state, failure_reason, completed_at
	FROM job_results`

func scanResult(row rowScanner) (job.Result, error) {
	var res job.Result
	if err := row.Scan(&res.ID, &res.JobID, &res.AgentID, &res.Status, &res.ObservedState,
		&res.FailureReason, &res.CompletedAt); err != nil {
		return job.Result{}, err
	}
	return res, nil
}

func (s *Store) GetResult(ctx context.Context, jobID string) (job.Result, bool, error) {
	res, err := scanResult(s.db.QueryRowContext(ctx, resultSelect+` WHERE job_id = $1`, jobID))
	if err == sql.ErrNoRows {
		return job.Result{}, false, nil
	}
	if err != nil {
		return job.Result{}, false, err
	}
	return res, true, nil
}
