package rbac

import (
	"context"
	"fmt"

	"github.com/guildhall/guildhall/internal/permissions"
)

// GrantSource loads the roles held by a user.
type GrantSource interface {
	UserGrants(ctx context.Context, userID int64) ([]Grant, error)
}

// Service resolves callers and their aggregate permissions.
type Service struct {
	source GrantSource
}

// NewService constructs a Service reading grants from source.
func NewService(source GrantSource) *Service {
	return &Service{source: source}
}

// Caller loads the current grants of userID. Every call reads committed state.
func (s *Service) Caller(ctx context.Context, userID int64) (Caller, error) {
	grants, err := s.source.UserGrants(ctx, userID)
	if err != nil {
		return Caller{}, fmt.Errorf("rbac: load grants: %w", err)
	}
	return NewCaller(userID, grants), nil
}

// Resolve returns the OR of every permission granted to userID, or zero when the user
// holds no roles.
func (s *Service) Resolve(ctx context.Context, userID int64) (permissions.Mask, error) {
	c, err := s.Caller(ctx, userID)
	if err != nil {
		return 0, err
	}
	return c.Mask(), nil
}
