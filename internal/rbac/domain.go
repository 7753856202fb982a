package rbac

import (
	"github.com/guildhall/guildhall/internal/permissions"
)

// Grant is one role held by a user, as seen by authorization.
type Grant struct {
	RoleID      int64
	Position    int
	Permissions permissions.Mask
}

// Caller describes the authenticated actor and the roles it holds.
type Caller struct {
	UserID int64
	Grants []Grant
}

// NewCaller builds a Caller from its grants.
func NewCaller(userID int64, grants []Grant) Caller {
	return Caller{UserID: userID, Grants: grants}
}

// Mask returns the bitwise OR of every held role's permissions.
func (c Caller) Mask() permissions.Mask {
	var m permissions.Mask
	for _, g := range c.Grants {
		m |= g.Permissions
	}
	return m
}

// Top returns the caller's highest ranked role, the one with the lowest position.
func (c Caller) Top() (Grant, bool) {
	if len(c.Grants) == 0 {
		return Grant{}, false
	}
	top := c.Grants[0]
	for _, g := range c.Grants[1:] {
		if g.Position < top.Position {
			top = g
		}
	}
	return top, true
}

// IsAdministrator reports whether any held role carries Administrator.
func (c Caller) IsAdministrator() bool {
	return c.Mask().IsAdministrator()
}

// Target is the role an operation acts on.
type Target struct {
	RoleID      int64
	Position    int
	Permissions permissions.Mask
	Base        bool
}
