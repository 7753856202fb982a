package users

import (
	"time"

	"github.com/guildhall/guildhall/internal/roles"
)

// User is a platform account. Ids come from the identity provider.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Profile is a user together with the roles they hold, highest rank first.
type Profile struct {
	User
	Roles []roles.Role
}

// RoleIDs returns the ids of the held roles in rank order.
func (p Profile) RoleIDs() []int64 {
	ids := make([]int64, 0, len(p.Roles))
	for _, r := range p.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// RegisterInput provisions a user.
type RegisterInput struct {
	ID       int64  `validate:"required,gt=0"`
	Username string `validate:"required,max=64"`
}
