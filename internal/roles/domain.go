// Package roles manages the role hierarchy: role records, their dense position
// ordering, and role membership.
package roles

import (
	"time"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/rbac"
)

// snowflakeEpoch is 2021-01-01T00:00:00Z in milliseconds; ids carry the creation
// time in their upper bits.
const (
	snowflakeEpoch     = 1609459200000
	snowflakeTimeShift = 22
)

// MaxColor is the largest RGB color value.
const MaxColor = 0xFFFFFF

// Role is a named bundle of permission bits with a rank in the hierarchy.
// Position 1 is the highest rank.
type Role struct {
	ID          int64
	Name        string
	Color       *int
	Permissions permissions.Mask
	Position    int
	Base        bool
}

// CreatedAt derives the creation time from the snowflake id.
func (r Role) CreatedAt() time.Time {
	return SnowflakeTime(r.ID)
}

// Target projects the role into what the authorization gate needs.
func (r Role) Target() rbac.Target {
	return rbac.Target{RoleID: r.ID, Position: r.Position, Permissions: r.Permissions, Base: r.Base}
}

// SnowflakeTime returns the creation time encoded in id.
func SnowflakeTime(id int64) time.Time {
	return time.UnixMilli((id >> snowflakeTimeShift) + snowflakeEpoch).UTC()
}

// RoleDetail is a role together with the users holding it.
type RoleDetail struct {
	Role
	Members []int64
}

// Member links a user to a role.
type Member struct {
	UserID int64
	RoleID int64
}

// CreateInput describes a new role.
type CreateInput struct {
	Name        string `validate:"required,max=100"`
	Color       *int   `validate:"omitnil,min=0,max=16777215"`
	Permissions permissions.Mask
	Base        bool
}

// UpdateInput describes a partial update. Nil fields are left untouched;
// ClearColor sets the color to null.
type UpdateInput struct {
	Name        *string `validate:"omitnil,min=1,max=100"`
	Color       *int    `validate:"omitnil,min=0,max=16777215"`
	ClearColor  bool
	Permissions *permissions.Mask
	Position    *int `validate:"omitnil,min=1"`
}

// Empty reports whether the update changes nothing.
func (in UpdateInput) Empty() bool {
	return in.Name == nil && in.Color == nil && !in.ClearColor && in.Permissions == nil && in.Position == nil
}

// fields returns the in-place column changes, leaving position aside.
func (in UpdateInput) fields() RoleFields {
	return RoleFields{Name: in.Name, Color: in.Color, ClearColor: in.ClearColor, Permissions: in.Permissions}
}

// RoleFields are the columns an in-place update may touch.
type RoleFields struct {
	Name        *string
	Color       *int
	ClearColor  bool
	Permissions *permissions.Mask
}

// Empty reports whether no column changes.
func (f RoleFields) Empty() bool {
	return f.Name == nil && f.Color == nil && !f.ClearColor && f.Permissions == nil
}

// ListFilter narrows role listings.
type ListFilter struct {
	Name   string
	Limit  int
	Offset int
}

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
