package identity

import "time"

// User is a principal authenticated by the upstream identity provider and
// resolved to an internal ID by every other subsystem.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
