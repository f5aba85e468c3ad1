package auth

import "context"

// DevActor is the identity used when authentication is bypassed in DEV.
const DevActor = "dev@localhost"

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Email   string
	Scopes  []string
}

// Actor is the identity recorded as performedBy: the email when the token
// carries one, otherwise the subject.
func (p Principal) Actor() string {
	if p.Email != "" {
		return p.Email
	}
	return p.Subject
}

func (p Principal) HasScope(scope string) bool {
	return containsString(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by RequireAuth.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the caller's actor identity, or "" when the
// request was not authenticated.
func ActorFromContext(ctx context.Context) string {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return ""
	}
	return p.Actor()
}
