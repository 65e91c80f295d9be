package job

import "time"

// ResultStatus is the outcome an agent reports for a job it executed.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
	ResultSkipped ResultStatus = "SKIPPED"
)

// ObservedState is the post-condition the agent observed on the remote
// platform, when the job type produces one (e.g. a connection request).
type ObservedState string

const (
	ObservedConnected ObservedState = "CONNECTED"
	ObservedPending    ObservedState = "PENDING"
	ObservedNone       ObservedState = "NONE"
)

// FailureReason enumerates why a job did not succeed.
type FailureReason string

const (
	FailureUIChanged      FailureReason = "UI_CHANGED"
	FailureTimeout        FailureReason = "TIMEOUT"
	FailureSessionExpired FailureReason = "SESSION_EXPIRED"
	FailureUnknown        FailureReason = "UNKNOWN"
)

// Result is the single, immutable outcome record for a job. Its creation and
// the job's transition to a terminal state are one atomic commit.
type Result struct {
	ID            string
	JobID         string
	AgentID       string
	Status        ResultStatus
	ObservedState ObservedState
	FailureReason FailureReason
	CompletedAt   time.Time
}

// Event is an agent-reported milestone during execution of a job, always
// appended to the audit log regardless of whether it advances job state.
type Event struct {
	ID        string
	JobID     string
	AgentID   string
	EventType string
	Message   string
	Timestamp time.Time
}

const (
	EventActionStarted   = "ACTION_STARTED"
	EventActionCompleted = "ACTION_COMPLETED"
	EventWarning         = "WARNING"
	EventInfo            = "INFO"
)
