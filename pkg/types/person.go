package types

import "github.com/uptrace/bun"

// Person is a named individual.
type Person struct {
	bun.BaseModel `bun:"table:persons,alias:person"`

	Id        int    `json:"id" bun:"id,pk,autoincrement"`
	LastName  string `json:"lastName" bun:"last_name,notnull"`
	FirstName string `json:"firstName" bun:"first_name,notnull"`
	SysUser   string `json:"sysUser" bun:"sys_user,notnull"`
}

// SetSysUser records the principal that last changed the person.
func (p *Person) SetSysUser(user string) { p.SysUser = user }
