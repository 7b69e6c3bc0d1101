// Package requestctx carries the authenticated caller through request context.
package requestctx

import "context"

// Caller identifies the authenticated dashboard session making a request.
type Caller struct {
	UserID  string
	OrgID   string
	OrgRole string
}

// Organization roles recognized by the federation admin surface.
const (
	OrgRoleOwner  = "owner"
	OrgRoleAdmin  = "admin"
	OrgRoleMember = "member"
)

// callerContextKey is the context key for authenticated caller identity.
type callerContextKey struct{}

// WithCaller stores the authenticated caller in context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller stored in context.
func CallerFromContext(ctx context.Context) Caller {
	if ctx == nil {
		return Caller{}
	}
	value, _ := ctx.Value(callerContextKey{}).(Caller)
	return value
}

// IsOrgAdmin reports whether the caller holds an administrative org role.
func (c Caller) IsOrgAdmin() bool {
	return c.OrgRole == OrgRoleOwner || c.OrgRole == OrgRoleAdmin
}
