package types

import "context"

// Attributable is implemented by entities that record the principal who last
// added, modified or deleted them. The controller stamps the current
// principal on every such entity before each save.
type Attributable interface {
	SetSysUser(user string)
}

// PrincipalProvider supplies the identifier of the principal acting in ctx.
type PrincipalProvider interface {
	SysUser(ctx context.Context) string
}

// PrincipalFunc adapts a plain function to PrincipalProvider.
type PrincipalFunc func(ctx context.Context) string

// SysUser calls f(ctx).
func (f PrincipalFunc) SysUser(ctx context.Context) string { return f(ctx) }
