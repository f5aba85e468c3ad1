package auth

const (
	ScopeOpenID         = "openid"
	ScopeProfile        = "profile"
	ScopeEmail          = "email"
	ScopeLifecycleRead  = "tenants:lifecycle:read"
	ScopeLifecycleWrite = "tenants:lifecycle:write"
)

// SessionScopes are granted to browser sessions from the login flow.
var SessionScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeLifecycleRead,
}

// AllScopes defines the full set of scopes used by the Swagger UI / Frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeLifecycleRead,
	ScopeLifecycleWrite,
}
