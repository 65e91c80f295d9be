package job

import "time"

// Type names the concrete action a Job instructs an agent to perform. Each
// type constrains the shape of Parameters.
type Type string

const (
	TypeVisitProfile         Type = "VISIT_PROFILE"
	TypeSendConnectionRequest Type = "SEND_CONNECTION_REQUEST"
	TypeLikePost             Type = "LIKE_POST"
	TypeCommentPost          Type = "COMMENT_POST"
	TypeSendMessage          Type = "SEND_MESSAGE"
)

// State is a node in the job lifecycle DAG:
//
//	PENDING -> ASSIGNED -> EXECUTING -> {COMPLETED|FAILED|SKIPPED}
//
// Terminal states are absorbing; no edge leaves them.
type State string

const (
	StatePending   State = "PENDING"
	StateAssigned  State = "ASSIGNED"
	StateExecuting State = "EXECUTING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateSkipped   State = "SKIPPED"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Job is a unit of work dispatched to the single agent bound to its account.
type Job struct {
	ID                    string
	AccountID             string
	CreatedByUserID       string
	AssignedAgentID       string
	Type                  Type
	Parameters            map[string]string
	State                 State
	Priority              int
	EarliestExecutionTime time.Time
	TimeoutSeconds        int
	CreatedAt             time.Time
	AssignedAt            time.Time
	StartedAt             time.Time
	CompletedAt           time.Time
	FailureReason         string
}

// Eligible reports whether the job may be handed to an agent at instant now:
// still pending, unassigned, and not scheduled for the future.
func (j Job) Eligible(now time.Time) bool {
	return j.State == StatePending && j.AssignedAgentID == "" && !j.EarliestExecutionTime.After(now)
}
