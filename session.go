package bifrost

import "time"

// Role is a user's privilege level, ordered from least to most privileged.
type Role string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

var roleRanks = map[Role]int{
	RoleUser:       0,
	RoleModerator:  1,
	RoleAdmin:      2,
	RoleSuperadmin: 3,
}

// Rank returns the role's position in the privilege order, or -1 for an
// unknown role.
func (r Role) Rank() int {
	rank, ok := roleRanks[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether the role is known and at least as privileged as min.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= 0 && r.Rank() >= min.Rank()
}

// Principal is the authenticated user's identity.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Role      Role   `json:"role"`
}

// Session is the live credential state: the bearer token, its expiry
// schedule, and the owning principal. A session is replaced wholesale on
// refresh, never partially mutated.
type Session struct {
	Token        string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RefreshDueAt time.Time  `json:"refresh_due_at"`
	Principal    *Principal `json:"principal,omitempty"`
}

// IsExpired returns true if the session's token has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// ShouldRefresh returns true while the session is inside its renewal
// window: past the refresh-due instant but still valid.
func (s *Session) ShouldRefresh() bool {
	now := time.Now()
	return !now.Before(s.RefreshDueAt) && now.Before(s.ExpiresAt)
}

// AuthState is a point-in-time snapshot of the authentication state,
// suitable for handing to a UI layer.
type AuthState struct {
	Authenticated bool       `json:"authenticated"`
	Principal     *Principal `json:"principal,omitempty"`
	Token         string     `json:"token,omitempty"`
}
