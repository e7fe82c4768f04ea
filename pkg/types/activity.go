package types

import "github.com/uptrace/bun"

// Activity is something a person does. Names are unique.
type Activity struct {
	bun.BaseModel `bun:"table:activities,alias:activity"`

	Id      int    `json:"id" bun:"id,pk,autoincrement"`
	Name    string `json:"name" bun:"name,notnull,unique"`
	SysUser string `json:"sysUser" bun:"sys_user,notnull"`
}

// SetSysUser records the principal that last changed the activity.
func (a *Activity) SetSysUser(user string) { a.SysUser = user }

// Table names for the reference entities. They match the bun table tags.
const (
	PersonsTable    = "persons"
	ActivitiesTable = "activities"
)
