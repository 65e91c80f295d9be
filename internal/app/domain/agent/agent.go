package agent

import "time"

// State tracks an agent's registration lifecycle. At most one non-terminated
// Agent may exist for a given account.
type State string

const (
	StateRegistered State = "REGISTERED"
	StateIdle       State = "IDLE"
	StateActive     State = "ACTIVE"
	StateTerminated State = "TERMINATED"
)

// Agent is the executing process bound to one account.
type Agent struct {
	ID              string
	AccountID       string
	State           State
	AgentVersion    string
	Platform        string
	LastHeartbeatAt time.Time
	RegisteredAt    time.Time
	TerminatedAt    time.Time
}

// Token is an opaque bearer credential bound to one agent/account pair. Only
// its SHA-256 digest is persisted; the plaintext value is handed to the agent
// once, at registration time, and never stored.
type Token struct {
	ID         string
	AgentID    string
	AccountID  string
	TokenHash  []byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  time.Time
}

// Expired reports whether the token is past its expiry at t.
func (tok Token) Expired(t time.Time) bool {
	return !tok.ExpiresAt.IsZero() && t.After(tok.ExpiresAt)
}

// Revoked reports whether the token has been explicitly revoked.
func (tok Token) Revoked() bool {
	return !tok.RevokedAt.IsZero()
}
