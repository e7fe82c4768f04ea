// Package principal identifies the user on whose behalf a request runs.
// Controllers stamp that identifier on every entity they save.
package principal

import (
	"context"
	"net/http"
	"strings"
)

// DefaultHeader carries the principal on incoming requests.
const DefaultHeader = "X-Sys-User"

type ctxKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// FromContext returns the user carried by ctx.
func FromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok
}

// Static always answers with the same principal.
type Static string

// SysUser implements types.PrincipalProvider.
func (s Static) SysUser(context.Context) string { return string(s) }

// Provider answers with the principal carried by the context, falling back
// to Default when there is none.
type Provider struct {
	Default string
}

// SysUser implements types.PrincipalProvider.
func (p Provider) SysUser(ctx context.Context) string {
	if u, ok := FromContext(ctx); ok {
		return u
	}
	return p.Default
}

// Middleware copies the principal named in header into the request
// context. Requests without the header (or with a blank one) pass through
// unchanged.
func Middleware(header string, next http.Handler) http.Handler {
	if header == "" {
		header = DefaultHeader
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := strings.TrimSpace(r.Header.Get(header)); u != "" {
			r = r.WithContext(WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}
