package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/httpx"
	"github.com/guildhall/guildhall/internal/roles"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	UpsertUser(ctx context.Context, in RegisterInput) (User, error)
}

// RoleReader exposes the role lookups users need.
type RoleReader interface {
	UserRoles(ctx context.Context, userID int64) ([]roles.Role, error)
	ResolvePermissions(ctx context.Context, userID int64) (permissions.Mask, error)
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	roles    RoleReader
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleReader) *Service {
	return &Service{repo: repo, roles: roles, validate: validator.New()}
}

// Profile returns the user with the roles they hold.
func (s *Service) Profile(ctx context.Context, id int64) (Profile, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	held, err := s.roles.UserRoles(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, Roles: held}, nil
}

// RolesOf lists the roles of userID on behalf of actorID. Users may always see their
// own roles; anyone else needs ManageRoles.
func (s *Service) RolesOf(ctx context.Context, actorID, userID int64) ([]roles.Role, error) {
	exists, err := s.repo.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	if actorID != userID {
		granted, err := s.roles.ResolvePermissions(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if !granted.Has(permissions.ManageRoles) {
			return nil, httpx.ErrForbidden
		}
	}
	return s.roles.UserRoles(ctx, userID)
}

// Register provisions or renames a user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	in.Username = norm.NFC.String(strings.TrimSpace(in.Username))
	if err := s.validate.Struct(in); err != nil {
		return User{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return s.repo.UpsertUser(ctx, in)
}
