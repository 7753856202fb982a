package roles

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/rbac"
)

//go:embed base_roles.yaml
var baseRolesYAML []byte

type baseRoleSpec struct {
	Name        string   `yaml:"name"`
	Color       string   `yaml:"color"`
	Permissions []string `yaml:"permissions"`
}

type baseRolesFile struct {
	Roles []baseRoleSpec `yaml:"roles"`
}

// DefaultBaseRoles returns the embedded starter roles.
func DefaultBaseRoles() ([]CreateInput, error) {
	return ParseBaseRoles(baseRolesYAML)
}

// ParseBaseRoles decodes a base role document. Permissions are given by registry name
// and colors as #RRGGBB.
func ParseBaseRoles(data []byte) ([]CreateInput, error) {
	var file baseRolesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("roles: parse base roles: %w", err)
	}
	inputs := make([]CreateInput, 0, len(file.Roles))
	for _, spec := range file.Roles {
		name := normalizeName(spec.Name)
		if name == "" {
			return nil, errors.New("roles: base role without a name")
		}
		var mask permissions.Mask
		for _, p := range spec.Permissions {
			v, ok := permissions.Lookup(p)
			if !ok {
				return nil, fmt.Errorf("roles: base role %q: unknown permission %q", name, p)
			}
			mask |= v
		}
		in := CreateInput{Name: name, Permissions: mask, Base: true}
		if spec.Color != "" {
			c, err := parseColor(spec.Color)
			if err != nil {
				return nil, fmt.Errorf("roles: base role %q: %w", name, err)
			}
			in.Color = &c
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func parseColor(raw string) (int, error) {
	v, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 16, 32)
	if err != nil || v < 0 || v > MaxColor {
		return 0, fmt.Errorf("invalid color %q", raw)
	}
	return int(v), nil
}

// SeedBaseRoles creates every missing base role at the bottom of the hierarchy, in
// order. Existing roles with the same name are left alone. Seeding is a bootstrap
// step and bypasses authorization.
func (s *Service) SeedBaseRoles(ctx context.Context, inputs []CreateInput) ([]Role, error) {
	var created []Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = created[:0]
		count, err := tx.CountRoles(ctx)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			in.Base = true
			if _, err := tx.GetRoleByName(ctx, in.Name); err == nil {
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
			role, err := tx.InsertRole(ctx, in, NextPosition(count))
			if err != nil {
				return err
			}
			count++
			created = append(created, role)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("roles: seed base roles: %w", err)
	}
	for _, role := range created {
		s.logger.Info("seeded base role", slog.String("name", role.Name), slog.Int("position", role.Position))
		s.publish(ctx, NewEvent(EventRoleCreated, role.ID, 0))
	}
	return created, nil
}

// BootstrapMember grants the named role to userID without authorization, for
// provisioning the first administrator. Already holding the role is not an error.
func (s *Service) BootstrapMember(ctx context.Context, userID int64, roleName string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.GetRoleByName(ctx, normalizeName(roleName))
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
		grants, err := tx.UserGrants(ctx, userID)
		if err != nil {
			return err
		}
		if slices.ContainsFunc(grants, func(g rbac.Grant) bool { return g.RoleID == role.ID }) {
			return nil
		}
		return tx.InsertMember(ctx, Member{UserID: userID, RoleID: role.ID})
	})
	if err != nil {
		return fmt.Errorf("roles: bootstrap member: %w", err)
	}
	return nil
}
