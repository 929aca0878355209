package auth

import (
	"context"
	"net/http"
)

type contextKey struct{}

// WithIdentity stores an identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by Middleware, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if ctx == nil {
		return AnonymousIdentity()
	}
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return AnonymousIdentity()
}

// Middleware authenticates every request and attaches the identity to its context.
// Requests are never rejected here; handlers decide whether Anonymous is acceptable.
func Middleware(a *Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := a.Authenticate(r.Context(), HandshakeFromRequest(r))
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Identity)))
	})
}

// RequireIdentity answers 401 for anonymous callers.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).IsAnonymous() {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
