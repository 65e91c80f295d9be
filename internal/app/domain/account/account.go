package account

import "time"

// ValidationStatus reflects the externally observed health of the account's
// browser session.
type ValidationStatus string

const (
	ValidationConnected    ValidationStatus = "CONNECTED"
	ValidationExpired      ValidationStatus = "EXPIRED"
	ValidationDisconnected ValidationStatus = "DISCONNECTED"
)

// HealthStatus reflects the account's standing with the platform the agent
// automates against.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthSuspended HealthStatus = "SUSPENDED"
)

// Account is the one-per-user binding to a social-networking profile. It never
// stores session credentials; it only records externally observed validity.
type Account struct {
	ID               string
	UserID           string
	ProfileURL       string
	DisplayName      string
	ValidationStatus ValidationStatus
	HealthStatus     HealthStatus
	SessionValidAt   time.Time
	UserPaused       bool
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
