package auth

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSecurity Role = "security"
	RoleNetwork  Role = "network"
	RoleAuditor  Role = "auditor"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleSecurity, RoleNetwork, RoleAuditor:
		return true
	}
	return false
}

// User is one identity record. FailedAttempts and LockedUntil are mutated
// only by the store's own Authenticate path.
type User struct {
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	Role           Role       `json:"role"`
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}
