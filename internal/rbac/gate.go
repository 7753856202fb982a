package rbac

import (
	"fmt"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
)

// DeniedError is returned by the gate. Its message never names the failed check;
// Reason is for logs only.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return httpx.ForbiddenDetail
}

// Unwrap lets callers match httpx.ErrForbidden.
func (e *DeniedError) Unwrap() error {
	return httpx.ErrForbidden
}

func deny(format string, args ...any) error {
	return &DeniedError{Reason: fmt.Sprintf(format, args...)}
}

// AuthorizeCreate gates creation of a role carrying requested.
func AuthorizeCreate(c Caller, requested permissions.Mask) error {
	if err := requireManageRoles(c); err != nil {
		return err
	}
	return requireContainment(c, requested)
}

// AuthorizeModify gates an in-place update of target. requested holds the permission
// bits the update would set, or zero when permissions are untouched.
func AuthorizeModify(c Caller, target Target, requested permissions.Mask) error {
	if err := requireManageRoles(c); err != nil {
		return err
	}
	if err := requireAbove(c, target); err != nil {
		return err
	}
	return requireContainment(c, requested)
}

// AuthorizeMove gates moving target to position. Non administrators may neither move a
// role they do not outrank nor place it at or above their own top role.
func AuthorizeMove(c Caller, target Target, position int) error {
	if err := requireManageRoles(c); err != nil {
		return err
	}
	if err := requireAbove(c, target); err != nil {
		return err
	}
	if c.IsAdministrator() {
		return nil
	}
	top, _ := c.Top()
	if position <= top.Position {
		return deny("target position %d not below top role position %d", position, top.Position)
	}
	return nil
}

// AuthorizeDelete gates deletion of target. Base roles need Administrator.
func AuthorizeDelete(c Caller, target Target) error {
	if err := requireManageRoles(c); err != nil {
		return err
	}
	if target.Base && !c.IsAdministrator() {
		return deny("role %d is a base role", target.RoleID)
	}
	return requireAbove(c, target)
}

// AuthorizeAssign gates granting target to a user. Assigning a role grants its
// permissions, so the caller must hold them.
func AuthorizeAssign(c Caller, target Target) error {
	if err := requireManageRoles(c); err != nil {
		return err
	}
	if err := requireAbove(c, target); err != nil {
		return err
	}
	return requireContainment(c, target.Permissions)
}

// AuthorizeUnassign gates removing target from a user.
func AuthorizeUnassign(c Caller, target Target) error {
	if err := requireManageRoles(c); err != nil {
		return err
	}
	return requireAbove(c, target)
}

func requireManageRoles(c Caller) error {
	if !c.Mask().Has(permissions.ManageRoles) {
		return deny("user %d lacks ManageRoles", c.UserID)
	}
	return nil
}

func requireContainment(c Caller, requested permissions.Mask) error {
	if missing := c.Mask().Missing(requested); missing != 0 {
		return deny("user %d cannot grant %s", c.UserID, missing)
	}
	return nil
}

func requireAbove(c Caller, target Target) error {
	if c.IsAdministrator() {
		return nil
	}
	top, ok := c.Top()
	if !ok {
		return deny("user %d holds no roles", c.UserID)
	}
	if top.Position >= target.Position {
		return deny("top role position %d not above target position %d", top.Position, target.Position)
	}
	return nil
}
