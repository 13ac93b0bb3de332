package replica

import "context"

// ScopeResolver discovers the scope a context is bound to. It is called once
// during bootstrap; returning Wildcard means the context operates as broadcast.
type ScopeResolver interface {
	ResolveScope(ctx context.Context, role Role) (int, error)
}

// ScopeFunc adapts a function to ScopeResolver.
type ScopeFunc func(ctx context.Context, role Role) (int, error)

// ResolveScope implements ScopeResolver.
func (f ScopeFunc) ResolveScope(ctx context.Context, role Role) (int, error) {
	return f(ctx, role)
}

// StaticScope resolves every role to the same scope.
type StaticScope int

// ResolveScope implements ScopeResolver.
func (s StaticScope) ResolveScope(context.Context, Role) (int, error) {
	return int(s), nil
}
