package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/pkg/metrics"
	"github.com/jwalitptl/clinic-portal/pkg/security"
)

// ExpireHook observes forced logouts, e.g. for the audit trail.
type ExpireHook func(ctx context.Context, identity model.Identity, sessionID string)

type Manager struct {
	store    Store
	sealer   security.Encryptor
	backend  string
	ttl      time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	onExpire ExpireHook
	expiries singleflight.Group
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithBackendName(name string) Option {
	return func(m *Manager) { m.backend = name }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithExpireHook(h ExpireHook) Option {
	return func(m *Manager) { m.onExpire = h }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, sealer security.Encryptor, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		sealer:  sealer,
		backend: "memory",
		ttl:     24 * time.Hour,
		now:     time.Now,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNop()
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Anonymous returns an empty session bound to the manager.
func (m *Manager) Anonymous() *Session {
	return &Session{manager: m}
}

// Load reads the triple stored for id. Anything short of a complete, readable
// triple with a live token yields an anonymous session, and the remnants are
// removed from the store.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	s := m.Anonymous()
	if id == "" {
		return s, nil
	}

	var values map[string]string
	err := m.observe("load", func() error {
		var err error
		values, err = m.store.Load(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(values) == 0 {
		return s, nil
	}

	token, identity, expires, ok := m.decode(values)
	if !ok {
		m.discard(ctx, id)
		return s, nil
	}

	s.id = id
	s.token = token
	s.identity = &identity
	s.role = identity.Role
	s.expires = expires
	return s, nil
}

func (m *Manager) decode(values map[string]string) (string, model.Identity, time.Time, bool) {
	sealed, raw, roleName := values[KeyToken], values[KeyUser], values[KeyRole]
	if sealed == "" || raw == "" || roleName == "" {
		return "", model.Identity{}, time.Time{}, false
	}

	token, err := security.OpenString(m.sealer, sealed)
	if err != nil || token == "" {
		return "", model.Identity{}, time.Time{}, false
	}

	role, ok := model.ParseRole(roleName)
	if !ok {
		return "", model.Identity{}, time.Time{}, false
	}
	identity, err := model.DecodeIdentity(role, []byte(raw))
	if err != nil {
		return "", model.Identity{}, time.Time{}, false
	}

	expires := m.now().Add(m.ttl)
	if exp, ok := TokenExpiry(token); ok {
		if !exp.After(m.now()) {
			return "", model.Identity{}, time.Time{}, false
		}
		if exp.Before(expires) {
			expires = exp
		}
	}
	return token, identity, expires, true
}

func (m *Manager) discard(ctx context.Context, id string) {
	if err := m.observe("delete", func() error { return m.store.Delete(ctx, id) }); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to discard incomplete session")
	}
}

// Save persists token, identity and role together, minting a session id on
// first save.
func (m *Manager) Save(ctx context.Context, s *Session, token string, identity model.Identity) error {
	if token == "" {
		return ErrNoToken
	}
	if !identity.Valid() {
		return model.ErrInvalidIdentity
	}

	ttl := m.ttl
	if exp, ok := TokenExpiry(token); ok {
		remaining := exp.Sub(m.now())
		if remaining <= 0 {
			return ErrTokenExpired
		}
		if remaining < ttl {
			ttl = remaining
		}
	}

	sealed, err := security.SealString(m.sealer, token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	raw, err := identity.Encode()
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	id := s.ID()
	if id == "" {
		id = uuid.NewString()
	}
	values := map[string]string{
		KeyToken: sealed,
		KeyUser:  string(raw),
		KeyRole:  string(identity.Role),
	}
	if err := m.observe("save", func() error { return m.store.Save(ctx, id, values, ttl) }); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.manager = m
	s.set(id, token, identity, m.now().Add(ttl))
	return nil
}

// Clear removes the triple. The session is anonymous afterwards.
func (m *Manager) Clear(ctx context.Context, s *Session) error {
	id := s.ID()
	s.reset(false)
	if id == "" {
		return nil
	}
	if err := m.observe("delete", func() error { return m.store.Delete(ctx, id) }); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Expire clears s after an authentication failure reported by the clinic API.
// It runs once per Session; concurrent expiries of the same id from different
// requests share one store delete.
func (m *Manager) Expire(ctx context.Context, s *Session) bool {
	first := false
	s.once.Do(func() {
		first = true
		identity, authenticated := s.Identity()
		id := s.ID()
		s.reset(true)
		if id == "" {
			return
		}

		ctx := context.WithoutCancel(ctx)
		_, err, _ := m.expiries.Do(id, func() (any, error) {
			err := m.observe("delete", func() error { return m.store.Delete(ctx, id) })
			if authenticated {
				m.metrics.ForcedLogouts.Inc()
				if m.onExpire != nil {
					m.onExpire(ctx, identity, id)
				}
			}
			return nil, err
		})
		if err != nil {
			m.logger.Error().Err(err).Str("session_id", id).Msg("failed to clear expired session")
		}
	})
	return first
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.observe("ping", func() error { return m.store.Ping(ctx) })
}

func (m *Manager) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.SessionOperations.WithLabelValues(m.backend, op, status).Inc()
	m.metrics.SessionLatency.WithLabelValues(m.backend, op).Observe(time.Since(start).Seconds())
	return err
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Tokens that are not JWTs, or carry no exp, report false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
