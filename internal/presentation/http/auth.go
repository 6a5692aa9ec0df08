package httppresentation

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

var (
	errUnauthenticated = errors.New("authentication required")
	errForbidden       = errors.New("admin role required")
)

// Identity is the caller as asserted by the upstream gateway, which owns login and
// token verification.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) Admin() bool { return i.Role == roleAdmin }

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// Authenticate rejects requests without a user id header.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(headerUserID))
		if uid == "" {
			writeError(w, http.StatusUnauthorized, errUnauthenticated)
			return
		}
		id := Identity{UserID: uid, Role: strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identityFrom(r.Context()).Admin() {
			writeError(w, http.StatusForbidden, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
