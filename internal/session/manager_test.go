package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/repository/memory"
	"github.com/jwalitptl/clinic-portal/internal/session"
	"github.com/jwalitptl/clinic-portal/pkg/metrics"
	"github.com/jwalitptl/clinic-portal/pkg/security"
)

type countingStore struct {
	*memory.SessionStore
	deletes atomic.Int32
}

func (c *countingStore) Delete(ctx context.Context, id string) error {
	c.deletes.Add(1)
	// widen the window so concurrent expiries overlap
	time.Sleep(20 * time.Millisecond)
	return c.SessionStore.Delete(ctx, id)
}

func newManager(t *testing.T, opts ...session.Option) (*session.Manager, *countingStore, *metrics.Metrics) {
	t.Helper()
	key, err := security.GenerateKey()
	require.NoError(t, err)
	sealer, err := security.NewXChaChaEncryptor(key)
	require.NoError(t, err)

	store := &countingStore{SessionStore: memory.NewSessionStore(time.Hour, time.Minute)}
	m := metrics.NewNop()
	opts = append([]session.Option{session.WithMetrics(m)}, opts...)
	return session.NewManager(store, sealer, opts...), store, m
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func patient() model.Identity {
	return model.PatientIdentity(&model.User{ID: 7, Name: "Jane Roe", Email: "jane@example.com"})
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	mgr, store, _ := newManager(t)
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, "opaque-token", patient()))
	require.NotEmpty(t, s.ID())
	assert.True(t, s.Changed())
	assert.Equal(t, 1, store.Len())

	values, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.NotEqual(t, "opaque-token", values[session.KeyToken], "token is sealed at rest")
	assert.Equal(t, "user", values[session.KeyRole])

	loaded, err := mgr.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.True(t, loaded.IsAuthenticated())
	assert.Equal(t, "opaque-token", loaded.Token())
	assert.Equal(t, model.RolePatient, loaded.Role())
	identity, ok := loaded.Identity()
	require.True(t, ok)
	assert.Equal(t, "Jane Roe", identity.Name())
	assert.False(t, loaded.Changed())
}

func TestLoadUnknownIDIsAnonymous(t *testing.T) {
	mgr, _, _ := newManager(t)

	s, err := mgr.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
	assert.Empty(t, s.ID())
}

func TestLoadPartialStateIsDiscarded(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{"token only", map[string]string{session.KeyToken: "x"}},
		{"no token", map[string]string{session.KeyUser: `{"id":7}`, session.KeyRole: "user"}},
		{"unsealable token", map[string]string{session.KeyToken: "garbage", session.KeyUser: `{"id":7}`, session.KeyRole: "user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, store, _ := newManager(t)
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "sid", tt.values, time.Minute))

			s, err := mgr.Load(ctx, "sid")
			require.NoError(t, err)
			assert.False(t, s.IsAuthenticated())
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestLoadRejectsMismatchedRole(t *testing.T) {
	mgr, store, _ := newManager(t)
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, "tok", patient()))

	values, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	values[session.KeyRole] = "superuser"
	require.NoError(t, store.Save(ctx, s.ID(), values, time.Minute))

	loaded, err := mgr.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.False(t, loaded.IsAuthenticated())
}

func TestSaveBoundsLifetimeByTokenExpiry(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	mgr, _, _ := newManager(t, session.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, signedToken(t, now.Add(time.Hour)), patient()))
	assert.Equal(t, now.Add(time.Hour).Unix(), s.ExpiresAt().Unix())

	err := mgr.Save(ctx, mgr.Anonymous(), signedToken(t, now.Add(-time.Minute)), patient())
	assert.ErrorIs(t, err, session.ErrTokenExpired)
}

func TestLoadDropsExpiredToken(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	clock := now
	mgr, store, _ := newManager(t, session.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, signedToken(t, now.Add(time.Minute)), patient()))

	clock = now.Add(2 * time.Minute)
	loaded, err := mgr.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.False(t, loaded.IsAuthenticated())
	assert.Equal(t, 0, store.Len())
}

func TestSaveRejectsIncompleteInput(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, mgr.Save(ctx, mgr.Anonymous(), "", patient()), session.ErrNoToken)
	assert.ErrorIs(t, mgr.Save(ctx, mgr.Anonymous(), "tok", model.Identity{Role: model.RoleDoctor}), model.ErrInvalidIdentity)
}

func TestClear(t *testing.T) {
	mgr, store, _ := newManager(t)
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, "tok", patient()))
	require.NoError(t, mgr.Clear(ctx, s))

	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.Expired())
	assert.Equal(t, 0, store.Len())
}

func TestExpireRunsOnceAcrossConcurrentCallers(t *testing.T) {
	var hooked atomic.Int32
	mgr, store, m := newManager(t, session.WithExpireHook(func(context.Context, model.Identity, string) {
		hooked.Add(1)
	}))
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, "tok", patient()))

	var (
		wg     sync.WaitGroup
		firsts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Expire(ctx) {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load())
	assert.Equal(t, int32(1), store.deletes.Load())
	assert.Equal(t, int32(1), hooked.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForcedLogouts))
	assert.True(t, s.Expired())
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, 0, store.Len())
}

func TestExpireSharedAcrossRequestsOfSameSession(t *testing.T) {
	mgr, store, m := newManager(t)
	ctx := context.Background()

	s := mgr.Anonymous()
	require.NoError(t, mgr.Save(ctx, s, "tok", patient()))

	// two in-flight requests each loaded their own copy
	a, err := mgr.Load(ctx, s.ID())
	require.NoError(t, err)
	b, err := mgr.Load(ctx, s.ID())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, sess := range []*session.Session{a, b} {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			sess.Expire(ctx)
		}(sess)
	}
	wg.Wait()

	assert.True(t, a.Expired())
	assert.True(t, b.Expired())
	assert.LessOrEqual(t, store.deletes.Load(), int32(2))
	assert.LessOrEqual(t, testutil.ToFloat64(m.ForcedLogouts), float64(2))
	assert.Equal(t, 0, store.Len())
}

func TestExpireAnonymousDoesNotCount(t *testing.T) {
	mgr, store, m := newManager(t)

	s := mgr.Anonymous()
	assert.True(t, s.Expire(context.Background()))
	assert.False(t, s.Expire(context.Background()))
	assert.Equal(t, int32(0), store.deletes.Load())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ForcedLogouts))
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := session.TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = session.TokenExpiry("not-a-jwt")
	assert.False(t, ok)
}

func TestContextRoundTrip(t *testing.T) {
	mgr, _, _ := newManager(t)
	s := mgr.Anonymous()

	got, ok := session.FromContext(session.NewContext(context.Background(), s))
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = session.FromContext(context.Background())
	assert.False(t, ok)
}
