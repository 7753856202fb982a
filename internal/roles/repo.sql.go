package roles

import (
	"github.com/jackc/pgx/v5"

	"github.com/guildhall/guildhall/internal/permissions"
)

const roleColumns = `id, name, color, permissions, position, base`

const (
	getRoleSQL          = `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	getRoleForUpdateSQL = getRoleSQL + ` FOR UPDATE`

	listPlacementsSQL = `SELECT id, position FROM roles ORDER BY position, id FOR UPDATE`

	countRolesSQL = `SELECT COUNT(*) FROM roles`

	listRolesSQL = `SELECT ` + roleColumns + ` FROM roles
WHERE ($1::text = '' OR strpos(lower(name), lower($1::text)) > 0)
ORDER BY position, id
LIMIT $2 OFFSET $3`

	countFilteredRolesSQL = `SELECT COUNT(*) FROM roles WHERE ($1::text = '' OR strpos(lower(name), lower($1::text)) > 0)`

	getRoleByNameSQL = `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	insertRoleSQL = `INSERT INTO roles (name, color, permissions, position, base)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + roleColumns

	updateRoleSQL = `UPDATE roles SET
    name = COALESCE($2::text, name),
    color = CASE WHEN $3::boolean THEN NULL ELSE COALESCE($4::integer, color) END,
    permissions = COALESCE($5::bigint, permissions)
WHERE id = $1
RETURNING ` + roleColumns

	deleteRoleSQL = `DELETE FROM roles WHERE id = $1`

	setPositionSQL = `UPDATE roles SET position = $2 WHERE id = $1`

	userGrantsSQL = `SELECT r.id, r.position, r.permissions
FROM userroles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1
ORDER BY r.position, r.id`

	userRolesSQL = `SELECT r.id, r.name, r.color, r.permissions, r.position, r.base
FROM userroles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1
ORDER BY r.position, r.id`

	userExistsSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`

	insertMemberSQL = `INSERT INTO userroles (user_id, role_id) VALUES ($1, $2)`

	deleteMemberSQL = `DELETE FROM userroles WHERE user_id = $1 AND role_id = $2`

	listMembersSQL = `SELECT user_id FROM userroles WHERE role_id = $1 ORDER BY user_id`
)

// Constraint names from the schema, used to translate violations.
const (
	constraintRoleName       = "roles_name_key"
	constraintMembership     = "userroles_pkey"
	constraintMembershipUser = "userroles_user_id_fkey"
)

func scanRole(row pgx.Row) (Role, error) {
	var (
		role  Role
		color *int32
		perms int64
	)
	if err := row.Scan(&role.ID, &role.Name, &color, &perms, &role.Position, &role.Base); err != nil {
		return Role{}, err
	}
	if color != nil {
		c := int(*color)
		role.Color = &c
	}
	role.Permissions = permissionsMask(perms)
	return role, nil
}

func colorParam(c *int) *int32 {
	if c == nil {
		return nil
	}
	v := int32(*c)
	return &v
}

func permissionsParam(m *permissions.Mask) *int64 {
	if m == nil {
		return nil
	}
	v := int64(*m)
	return &v
}

func permissionsMask(v int64) permissions.Mask {
	return permissions.Mask(v)
}
