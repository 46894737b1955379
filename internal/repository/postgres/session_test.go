package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when PORTAL_TEST_POSTGRES_DSN is set.
func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	dsn := os.Getenv("PORTAL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PORTAL_TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewSessionStore(db)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { store.Delete(ctx, id) })

	require.NoError(t, store.Save(ctx, id, map[string]string{"auth_token": "t", "auth_role": "user"}, time.Minute))
	values, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"auth_token": "t", "auth_role": "user"}, values)

	require.NoError(t, store.Save(ctx, id, map[string]string{"auth_role": "admin"}, time.Minute))
	values, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"auth_role": "admin"}, values)

	require.NoError(t, store.Delete(ctx, id))
	values, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestSessionStoreCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, store.Save(ctx, id, map[string]string{"auth_role": "user"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	values, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, values, "expired rows are invisible before cleanup")

	n, err := store.Cleanup(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}
