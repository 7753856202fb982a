//go:build integration

package roles

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/guildhall/guildhall/internal/permissions"
	"github.com/guildhall/guildhall/internal/platform/db"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("guildhall_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool))
	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

func insertUser(t *testing.T, pool *pgxpool.Pool, id int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `INSERT INTO users (id, username) VALUES ($1, $2)`, id, fmt.Sprintf("user%d", id))
	require.NoError(t, err)
}

func TestRepositoryEndToEnd(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	repo := NewRepository(pool, db.DefaultSerializableAttempts)
	svc := NewService(repo, nil, nil, nil)
	insertUser(t, pool, adminUser)
	insertUser(t, pool, plainUser)

	inputs, err := DefaultBaseRoles()
	require.NoError(t, err)
	_, err = svc.SeedBaseRoles(ctx, inputs)
	require.NoError(t, err)
	require.NoError(t, svc.BootstrapMember(ctx, adminUser, "Admin"))

	created, err := svc.CreateRole(ctx, adminUser, CreateInput{Name: "Helpers", Permissions: permissions.ManageRoles})
	require.NoError(t, err)
	assert.Equal(t, 4, created.Position)
	assert.False(t, created.CreatedAt().Before(time.Now().Add(-time.Minute)))

	_, err = svc.CreateRole(ctx, adminUser, CreateInput{Name: "Helpers"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	moved, err := svc.MoveRole(ctx, adminUser, created.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.Position)

	require.NoError(t, svc.AssignRole(ctx, adminUser, plainUser, created.ID))
	assert.ErrorIs(t, svc.AssignRole(ctx, adminUser, plainUser, created.ID), ErrAlreadyAssigned)
	assert.ErrorIs(t, svc.AssignRole(ctx, adminUser, 777, created.ID), ErrUserNotFound)

	mask, err := svc.ResolvePermissions(ctx, plainUser)
	require.NoError(t, err)
	assert.Equal(t, permissions.ManageRoles, mask)

	color := 0x00FF00
	updated, err := svc.UpdateRole(ctx, adminUser, created.ID, UpdateInput{Color: &color})
	require.NoError(t, err)
	assert.Equal(t, color, *updated.Color)
	updated, err = svc.UpdateRole(ctx, adminUser, created.ID, UpdateInput{ClearColor: true})
	require.NoError(t, err)
	assert.Nil(t, updated.Color)

	list, total, err := svc.ListRoles(ctx, ListFilter{Name: "help"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)

	_, err = svc.CreateRole(ctx, adminUser, CreateInput{Name: "50% Off"})
	require.NoError(t, err)
	for filter, want := range map[string]int{"%": 1, "_": 0, "h_lp": 0, "0% o": 1} {
		_, total, err = svc.ListRoles(ctx, ListFilter{Name: filter})
		require.NoError(t, err)
		assert.Equal(t, want, total, "filter %q", filter)
	}
	discount, _, err := svc.ListRoles(ctx, ListFilter{Name: "50%"})
	require.NoError(t, err)
	require.Len(t, discount, 1)
	require.NoError(t, svc.DeleteRole(ctx, adminUser, discount[0].ID))

	require.NoError(t, svc.DeleteRole(ctx, adminUser, created.ID))
	held, err := svc.UserRoles(ctx, plainUser)
	require.NoError(t, err)
	assert.Empty(t, held)

	all, total, err := svc.ListRoles(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for i, r := range all {
		assert.Equal(t, i+1, r.Position)
	}
}

func TestRepositoryConcurrentMovesStayDense(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	// A single attempt: waiting writers must queue on the lock rather than fail and retry.
	repo := NewRepository(pool, 1)
	svc := NewService(repo, nil, nil, nil)
	insertUser(t, pool, adminUser)

	_, err := svc.SeedBaseRoles(ctx, []CreateInput{{Name: "Admin", Permissions: permissions.Administrator}})
	require.NoError(t, err)
	require.NoError(t, svc.BootstrapMember(ctx, adminUser, "Admin"))

	var ids []int64
	for i := range 8 {
		role, err := svc.CreateRole(ctx, adminUser, CreateInput{Name: fmt.Sprintf("r%d", i)})
		require.NoError(t, err)
		ids = append(ids, role.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			_, err := svc.MoveRole(gctx, adminUser, id, 2+(i*3)%len(ids))
			return err
		})
	}
	require.NoError(t, g.Wait())

	changes, err := svc.VerifyOrdering(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	var ps []Placement
	err = repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ps, err = tx.Placements(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Len(t, ps, 9)
	assert.True(t, Dense(ps))

	g, gctx = errgroup.WithContext(ctx)
	for i := range 8 {
		g.Go(func() error {
			_, err := svc.CreateRole(gctx, adminUser, CreateInput{Name: fmt.Sprintf("burst%d", i)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	_, total, err := svc.ListRoles(ctx, ListFilter{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 17, total)
	changes, err = svc.VerifyOrdering(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}
