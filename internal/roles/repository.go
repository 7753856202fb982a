package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildhall/guildhall/internal/platform/db"
	"github.com/guildhall/guildhall/internal/rbac"
)

// orderingLockKey is the advisory lock serialising every role mutation.
const orderingLockKey int64 = 0x726f6c6573

// TxRepository is the transactional surface used by Service mutations.
type TxRepository interface {
	UserGrants(ctx context.Context, userID int64) ([]rbac.Grant, error)
	GetRoleForUpdate(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	Placements(ctx context.Context) ([]Placement, error)
	CountRoles(ctx context.Context) (int, error)
	InsertRole(ctx context.Context, in CreateInput, position int) (Role, error)
	UpdateRole(ctx context.Context, id int64, fields RoleFields) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ApplyChanges(ctx context.Context, changes []Change) error
	UserExists(ctx context.Context, userID int64) (bool, error)
	InsertMember(ctx context.Context, m Member) error
	DeleteMember(ctx context.Context, m Member) (bool, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewRepository constructs a repository. attempts bounds serialization retries.
func NewRepository(pool *pgxpool.Pool, attempts int) *Repository {
	return &Repository{pool: pool, attempts: attempts}
}

// WithTx runs fn in a SERIALIZABLE transaction begun after the role ordering lock is held.
// fn may run more than once when the transaction is retried.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, db.Dedicated(r.pool), orderingLockKey, r.attempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, getRoleSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: get role: %w", err)
	}
	return role, nil
}

// ListRoles returns a page of roles ordered by position and the total match count.
func (r *Repository) ListRoles(ctx context.Context, filter ListFilter) ([]Role, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, countFilteredRolesSQL, filter.Name).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("roles: count roles: %w", err)
	}
	rows, err := r.pool.Query(ctx, listRolesSQL, filter.Name, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("roles: list roles: %w", err)
	}
	list, err := collectRoles(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("roles: list roles: %w", err)
	}
	return list, total, nil
}

// ListMembers returns the ids of users holding roleID.
func (r *Repository) ListMembers(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, listMembersSQL, roleID)
	if err != nil {
		return nil, fmt.Errorf("roles: list members: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("roles: list members: %w", err)
	}
	return ids, nil
}

// UserRoles returns the roles held by userID ordered by position.
func (r *Repository) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, userRolesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("roles: user roles: %w", err)
	}
	list, err := collectRoles(rows)
	if err != nil {
		return nil, fmt.Errorf("roles: user roles: %w", err)
	}
	return list, nil
}

// UserGrants implements rbac.GrantSource against committed state.
func (r *Repository) UserGrants(ctx context.Context, userID int64) ([]rbac.Grant, error) {
	return queryGrants(ctx, r.pool, userID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryGrants(ctx context.Context, q querier, userID int64) ([]rbac.Grant, error) {
	rows, err := q.Query(ctx, userGrantsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("roles: user grants: %w", err)
	}
	defer rows.Close()
	var grants []rbac.Grant
	for rows.Next() {
		var (
			g     rbac.Grant
			perms int64
		)
		if err := rows.Scan(&g.RoleID, &g.Position, &perms); err != nil {
			return nil, fmt.Errorf("roles: user grants: %w", err)
		}
		g.Permissions = permissionsMask(perms)
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: user grants: %w", err)
	}
	return grants, nil
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var list []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, role)
	}
	return list, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) UserGrants(ctx context.Context, userID int64) ([]rbac.Grant, error) {
	return queryGrants(ctx, t.tx, userID)
}

func (t *txRepo) GetRoleForUpdate(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(t.tx.QueryRow(ctx, getRoleForUpdateSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: get role: %w", err)
	}
	return role, nil
}

func (t *txRepo) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, err := scanRole(t.tx.QueryRow(ctx, getRoleByNameSQL, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: get role by name: %w", err)
	}
	return role, nil
}

func (t *txRepo) Placements(ctx context.Context) ([]Placement, error) {
	rows, err := t.tx.Query(ctx, listPlacementsSQL)
	if err != nil {
		return nil, fmt.Errorf("roles: placements: %w", err)
	}
	ps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Placement, error) {
		var p Placement
		err := row.Scan(&p.RoleID, &p.Position)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("roles: placements: %w", err)
	}
	return ps, nil
}

func (t *txRepo) CountRoles(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, countRolesSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("roles: count roles: %w", err)
	}
	return n, nil
}

func (t *txRepo) InsertRole(ctx context.Context, in CreateInput, position int) (Role, error) {
	role, err := scanRole(t.tx.QueryRow(ctx, insertRoleSQL,
		in.Name, colorParam(in.Color), int64(in.Permissions), position, in.Base))
	if err != nil {
		return Role{}, translate("insert role", err)
	}
	return role, nil
}

func (t *txRepo) UpdateRole(ctx context.Context, id int64, f RoleFields) (Role, error) {
	role, err := scanRole(t.tx.QueryRow(ctx, updateRoleSQL,
		id, f.Name, f.ClearColor, colorParam(f.Color), permissionsParam(f.Permissions)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, translate("update role", err)
	}
	return role, nil
}

func (t *txRepo) DeleteRole(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, deleteRoleSQL, id)
	if err != nil {
		return fmt.Errorf("roles: delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyChanges writes every position change in one round trip.
func (t *txRepo) ApplyChanges(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(setPositionSQL, c.RoleID, c.To)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range changes {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("roles: apply positions: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("roles: apply positions: %w", err)
	}
	return nil
}

func (t *txRepo) UserExists(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	if err := t.tx.QueryRow(ctx, userExistsSQL, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("roles: user exists: %w", err)
	}
	return ok, nil
}

func (t *txRepo) InsertMember(ctx context.Context, m Member) error {
	if _, err := t.tx.Exec(ctx, insertMemberSQL, m.UserID, m.RoleID); err != nil {
		return translate("insert member", err)
	}
	return nil
}

func (t *txRepo) DeleteMember(ctx context.Context, m Member) (bool, error) {
	tag, err := t.tx.Exec(ctx, deleteMemberSQL, m.UserID, m.RoleID)
	if err != nil {
		return false, fmt.Errorf("roles: delete member: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// translate maps constraint violations onto domain errors. Serialization failures
// pass through wrapped so the transaction runner can retry them.
func translate(op string, err error) error {
	switch db.ErrorCode(err) {
	case db.CodeUniqueViolation:
		switch db.ConstraintName(err) {
		case constraintRoleName:
			return ErrDuplicateName
		case constraintMembership:
			return ErrAlreadyAssigned
		}
	case db.CodeForeignKeyViolation:
		if db.ConstraintName(err) == constraintMembershipUser {
			return ErrUserNotFound
		}
		return ErrNotFound
	}
	return fmt.Errorf("roles: %s: %w", op, err)
}
