package domain

// ============================================================
// Authentication
// ============================================================

// Identity is the caller resolved from a Supabase access token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// ServiceRole is the Supabase role used by trusted backends (the CLI).
const ServiceRole = "service_role"

// IsService reports whether the identity bypasses per-user ownership checks.
func (i Identity) IsService() bool {
	return i.Role == ServiceRole
}
