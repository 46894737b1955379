package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when PORTAL_TEST_REDIS_URL is set, e.g.
// redis://localhost:6379/15.
func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	url := os.Getenv("PORTAL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PORTAL_TEST_REDIS_URL not set")
	}
	client, err := NewClient(context.Background(), Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewSessionStore(client)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, store.Save(ctx, id, map[string]string{"auth_token": "t", "auth_role": "user"}, time.Minute))
	values, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"auth_token": "t", "auth_role": "user"}, values)

	require.NoError(t, store.Save(ctx, id, map[string]string{"auth_role": "doctor"}, time.Minute))
	values, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"auth_role": "doctor"}, values)

	ttl, err := store.client.TTL(ctx, key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, store.Delete(ctx, id))
	values, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, values)
}
