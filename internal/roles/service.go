package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
	"github.com/guildhall/guildhall/internal/rbac"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	rbac.GrantSource
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, filter ListFilter) ([]Role, int, error)
	ListMembers(ctx context.Context, roleID int64) ([]int64, error)
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
}

// Recorder observes role operations.
type Recorder interface {
	RoleOperation(op, outcome string)
}

// Service handles role business logic.
type Service struct {
	repo      RepositoryPort
	resolver  *rbac.Service
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
	validate  *validator.Validate
}

// NewService builds Service instance. publisher, recorder and logger may be nil.
func NewService(repo RepositoryPort, publisher Publisher, recorder Recorder, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		resolver:  rbac.NewService(repo),
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
		validate:  validator.New(),
	}
}

// CreateRole creates a role at the bottom of the hierarchy.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in CreateInput) (Role, error) {
	in.Name = normalizeName(in.Name)
	if err := s.check(in, in.Name, in.Permissions); err != nil {
		return Role{}, s.done("create", err)
	}

	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		caller, err := loadCaller(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := rbac.AuthorizeCreate(caller, in.Permissions); err != nil {
			return err
		}
		count, err := tx.CountRoles(ctx)
		if err != nil {
			return err
		}
		created, err = tx.InsertRole(ctx, in, NextPosition(count))
		return err
	})
	if err != nil {
		return Role{}, s.done("create", err, slog.Int64("actor_id", actorID))
	}

	s.done("create", nil)
	s.publish(ctx, NewEvent(EventRoleCreated, created.ID, actorID))
	return created, nil
}

// GetRole returns a role with its members.
func (s *Service) GetRole(ctx context.Context, id int64) (RoleDetail, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	members, err := s.repo.ListMembers(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{Role: role, Members: members}, nil
}

// ListRoles returns a page of roles ordered by position and the total count.
func (s *Service) ListRoles(ctx context.Context, filter ListFilter) ([]Role, int, error) {
	filter = filter.Normalize()
	filter.Name = normalizeName(filter.Name)
	return s.repo.ListRoles(ctx, filter)
}

// UpdateRole changes name, color or permissions in place, and moves the role when a
// position is given. Everything happens in one transaction.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, in UpdateInput) (Role, error) {
	if in.Name != nil {
		name := normalizeName(*in.Name)
		in.Name = &name
	}
	if in.Color != nil && in.ClearColor {
		return Role{}, s.done("update", validationError("color cannot be set and cleared together"))
	}
	var requested permissions.Mask
	if in.Permissions != nil {
		requested = *in.Permissions
	}
	name := ""
	if in.Name != nil {
		name = *in.Name
	}
	if err := s.check(in, name, requested); err != nil {
		return Role{}, s.done("update", err)
	}
	if in.Empty() {
		role, err := s.repo.GetRole(ctx, id)
		return role, s.done("update", err)
	}

	var (
		updated Role
		moved   bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		moved = false
		role, err := tx.GetRoleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		caller, err := loadCaller(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := rbac.AuthorizeModify(caller, role.Target(), requested); err != nil {
			return err
		}
		if in.Position != nil {
			if err := rbac.AuthorizeMove(caller, role.Target(), *in.Position); err != nil {
				return err
			}
		}
		if fields := in.fields(); !fields.Empty() {
			if role, err = tx.UpdateRole(ctx, id, fields); err != nil {
				return err
			}
		}
		if in.Position != nil {
			position, changed, err := move(ctx, tx, id, *in.Position)
			if err != nil {
				return err
			}
			role.Position, moved = position, changed
		}
		updated = role
		return nil
	})
	if err != nil {
		return Role{}, s.done("update", err, slog.Int64("actor_id", actorID), slog.Int64("role_id", id))
	}

	s.done("update", nil)
	if !in.fields().Empty() {
		s.publish(ctx, NewEvent(EventRoleUpdated, id, actorID))
	}
	if moved {
		ev := NewEvent(EventRoleMoved, id, actorID)
		ev.Position = updated.Position
		s.publish(ctx, ev)
	}
	return updated, nil
}

// MoveRole places the role at position and renumbers the hierarchy. Moving a role to
// its current position changes nothing.
func (s *Service) MoveRole(ctx context.Context, actorID, id int64, position int) (Role, error) {
	if position < 1 {
		return Role{}, s.done("move", ErrInvalidPosition)
	}

	var (
		moved   Role
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		caller, err := loadCaller(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := rbac.AuthorizeMove(caller, role.Target(), position); err != nil {
			return err
		}
		role.Position, changed, err = move(ctx, tx, id, position)
		moved = role
		return err
	})
	if err != nil {
		return Role{}, s.done("move", err, slog.Int64("actor_id", actorID), slog.Int64("role_id", id))
	}

	s.done("move", nil)
	if changed {
		ev := NewEvent(EventRoleMoved, id, actorID)
		ev.Position = moved.Position
		s.publish(ctx, ev)
	}
	return moved, nil
}

// DeleteRole removes the role and closes the gap it leaves in the hierarchy.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		caller, err := loadCaller(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := rbac.AuthorizeDelete(caller, role.Target()); err != nil {
			return err
		}
		if err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		remaining, err := tx.Placements(ctx)
		if err != nil {
			return err
		}
		return tx.ApplyChanges(ctx, Compact(remaining))
	})
	if err != nil {
		return s.done("delete", err, slog.Int64("actor_id", actorID), slog.Int64("role_id", id))
	}

	s.done("delete", nil)
	s.publish(ctx, NewEvent(EventRoleDeleted, id, actorID))
	return nil
}

// AssignRole grants roleID to userID.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	if userID <= 0 {
		return s.done("assign", validationError("user id must be positive"))
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleForUpdate(ctx, roleID)
		if err != nil {
			return err
		}
		exists, err := tx.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		caller, err := loadCaller(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := rbac.AuthorizeAssign(caller, role.Target()); err != nil {
			return err
		}
		return tx.InsertMember(ctx, Member{UserID: userID, RoleID: roleID})
	})
	if err != nil {
		return s.done("assign", err, slog.Int64("actor_id", actorID), slog.Int64("role_id", roleID), slog.Int64("user_id", userID))
	}

	s.done("assign", nil)
	ev := NewEvent(EventMemberAdded, roleID, actorID)
	ev.UserID = userID
	s.publish(ctx, ev)
	return nil
}

// UnassignRole removes roleID from userID. Removing a role the user does not hold
// succeeds without changes.
func (s *Service) UnassignRole(ctx context.Context, actorID, userID, roleID int64) error {
	var removed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleForUpdate(ctx, roleID)
		if err != nil {
			return err
		}
		caller, err := loadCaller(ctx, tx, actorID)
		if err != nil {
			return err
		}
		if err := rbac.AuthorizeUnassign(caller, role.Target()); err != nil {
			return err
		}
		removed, err = tx.DeleteMember(ctx, Member{UserID: userID, RoleID: roleID})
		return err
	})
	if err != nil {
		return s.done("unassign", err, slog.Int64("actor_id", actorID), slog.Int64("role_id", roleID), slog.Int64("user_id", userID))
	}

	s.done("unassign", nil)
	if removed {
		ev := NewEvent(EventMemberRemoved, roleID, actorID)
		ev.UserID = userID
		s.publish(ctx, ev)
	}
	return nil
}

// ResolvePermissions returns the aggregate permissions of userID.
func (s *Service) ResolvePermissions(ctx context.Context, userID int64) (permissions.Mask, error) {
	return s.resolver.Resolve(ctx, userID)
}

// UserRoles returns the roles held by userID ordered by position.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return s.repo.UserRoles(ctx, userID)
}

// VerifyOrdering runs the renumbering pass and returns the positions it had to
// repair. A healthy hierarchy yields no changes.
func (s *Service) VerifyOrdering(ctx context.Context) ([]Change, error) {
	var changes []Change
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ps, err := tx.Placements(ctx)
		if err != nil {
			return err
		}
		changes = Renumber(ps)
		return tx.ApplyChanges(ctx, changes)
	})
	if err != nil {
		return nil, s.done("verify", err)
	}

	s.done("verify", nil)
	if len(changes) > 0 {
		s.logger.Warn("roles ordering repaired", slog.Int("changes", len(changes)))
		s.publish(ctx, NewEvent(EventRolesRenumbered, 0, 0))
	}
	return changes, nil
}

func move(ctx context.Context, tx TxRepository, id int64, position int) (int, bool, error) {
	ps, err := tx.Placements(ctx)
	if err != nil {
		return 0, false, err
	}
	changes, err := Move(ps, id, position)
	if err != nil {
		return 0, false, err
	}
	if err := tx.ApplyChanges(ctx, changes); err != nil {
		return 0, false, err
	}
	for _, p := range Apply(ps, changes) {
		if p.RoleID == id {
			return p.Position, len(changes) > 0, nil
		}
	}
	return 0, false, ErrNotFound
}

func loadCaller(ctx context.Context, tx TxRepository, actorID int64) (rbac.Caller, error) {
	grants, err := tx.UserGrants(ctx, actorID)
	if err != nil {
		return rbac.Caller{}, err
	}
	return rbac.NewCaller(actorID, grants), nil
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// check validates input before any store access.
func (s *Service) check(in any, name string, mask permissions.Mask) error {
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return validationError("%v", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fieldErr.Field()), fieldErr.Tag()))
		}
		return validationError("%s", strings.Join(msgs, "; "))
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return validationError("name must not contain control characters")
	}
	if unknown := mask.Unknown(); unknown != 0 {
		return validationError("unknown permission bits %#x", uint64(unknown))
	}
	return nil
}

// done records the outcome of op and logs failures. It returns err unchanged.
func (s *Service) done(op string, err error, attrs ...any) error {
	outcome := "ok"
	var denied *rbac.DeniedError
	switch {
	case err == nil:
	case errors.As(err, &denied):
		outcome = "forbidden"
		s.logger.Warn("roles "+op+" denied", append(attrs, slog.String("reason", denied.Reason))...)
	case errors.Is(err, httpx.ErrValidation):
		outcome = "invalid"
	case errors.Is(err, httpx.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, httpx.ErrDuplicate):
		outcome = "conflict"
	default:
		outcome = "error"
		s.logger.Error("roles "+op, append(attrs, slog.Any("error", err))...)
	}
	if s.recorder != nil {
		s.recorder.RoleOperation(op, outcome)
	}
	return err
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("roles publish event", slog.String("type", string(ev.Type)), slog.Any("error", err))
	}
}
