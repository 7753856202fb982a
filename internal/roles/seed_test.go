package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall/guildhall/internal/permissions"
)

func TestDefaultBaseRoles(t *testing.T) {
	inputs, err := DefaultBaseRoles()
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	assert.Equal(t, "Admin", inputs[0].Name)
	assert.Equal(t, permissions.Administrator, inputs[0].Permissions)
	require.NotNil(t, inputs[0].Color)
	assert.Equal(t, 0x31D5CF, *inputs[0].Color)

	host := inputs[2]
	assert.Equal(t, "Timathon Host", host.Name)
	assert.Equal(t, 0, *host.Color)
	assert.Equal(t, permissions.ManageTimathon|permissions.BanTimathon|permissions.KickTimathonParticipants|
		permissions.CreateTimathon|permissions.ViewTimathonSubmissions, host.Permissions)
	for _, in := range inputs {
		assert.True(t, in.Base)
	}
}

func TestParseBaseRolesRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown permission": "roles:\n  - name: x\n    permissions: [Superpower]\n",
		"bad color":          "roles:\n  - name: x\n    color: \"#GGGGGG\"\n",
		"color too large":    "roles:\n  - name: x\n    color: \"#1000000\"\n",
		"missing name":       "roles:\n  - color: \"#000000\"\n",
		"not yaml":           "roles: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBaseRoles([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseBaseRolesLooksUpNamesCaseInsensitively(t *testing.T) {
	inputs, err := ParseBaseRoles([]byte("roles:\n  - name: helpers\n    permissions: [managetimathon]\n"))
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, permissions.ManageTimathon, inputs[0].Permissions)
	assert.Nil(t, inputs[0].Color)
}

func TestSeedBaseRolesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := f.repo.addRole("Member", 0, 1)
	inputs, err := DefaultBaseRoles()
	require.NoError(t, err)

	created, err := f.svc.SeedBaseRoles(ctx, inputs)
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, []string{"Member", "Admin", "Developer", "Timathon Host"}, f.repo.names())
	assert.Equal(t, []int{1, 2, 3, 4}, f.repo.positions())

	created, err = f.svc.SeedBaseRoles(ctx, inputs)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, f.repo.snapshot(), 4)
	assert.False(t, f.repo.snapshot()[0].Base)
	assert.Equal(t, existing.ID, f.repo.snapshot()[0].ID)
}

func TestBootstrapMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inputs, err := DefaultBaseRoles()
	require.NoError(t, err)
	_, err = f.svc.SeedBaseRoles(ctx, inputs)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.BootstrapMember(ctx, adminUser, "Admin"), ErrUserNotFound)
	f.repo.addUser(adminUser)

	require.NoError(t, f.svc.BootstrapMember(ctx, adminUser, " Admin "))
	require.NoError(t, f.svc.BootstrapMember(ctx, adminUser, "Admin"))
	assert.ErrorIs(t, f.svc.BootstrapMember(ctx, adminUser, "Nobody"), ErrNotFound)

	mask, err := f.svc.ResolvePermissions(ctx, adminUser)
	require.NoError(t, err)
	assert.True(t, mask.IsAdministrator())
}
