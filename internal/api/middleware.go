package api

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the caller identity injected by the upstream gateway.
// Validating the claims is the gateway's job; this service trusts the
// headers it forwards.
type Identity struct {
	UserID string
	Roles  []string
}

type identityContextKey struct{}

// ContextWithIdentity returns a context carrying the given identity.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity set by the
// middleware. The second return is false when no identity is present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// RequireIdentity reads the gateway headers and rejects requests that
// carry no user ID.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			WriteJSONError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		id := Identity{UserID: userID, Roles: splitRoles(r.Header.Get("X-User-Roles"))}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// NoopIdentity injects a fixed identity for tests and local runs.
func NoopIdentity(id Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

func splitRoles(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if role := strings.TrimSpace(p); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
