package auth

import "context"

type Role string

const (
	RoleUser    Role = "USER"
	RoleScanner Role = "SCANNER"
	RoleAdmin   Role = "ADMIN"
)

// Identity is the verified caller of a request.
type Identity struct {
	UserID string `json:"sub"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Allows reports whether the identity holds any of roles. Admins hold all.
func (i Identity) Allows(roles ...Role) bool {
	if i.IsAdmin() {
		return true
	}
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserID extracts the caller's user id in handlers.
func UserID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}
