// Package session keeps the signed-in actor (token, identity, role) behind an
// opaque session id.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-portal/internal/model"
)

// Fixed key names of the persisted triple.
const (
	KeyToken = "auth_token"
	KeyUser  = "auth_user"
	KeyRole  = "auth_role"
)

var (
	ErrTokenExpired = errors.New("session token already expired")
	ErrNoToken      = errors.New("session token is empty")
)

// Store is the key-value persistence boundary. Load of an unknown id returns
// an empty map. Save replaces every key of the session in one write.
type Store interface {
	Load(ctx context.Context, id string) (map[string]string, error)
	Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Session is the per-request view of one actor. It is shared by every API call
// made while serving the request, so all access goes through the mutex.
type Session struct {
	mu       sync.RWMutex
	id       string
	token    string
	identity *model.Identity
	role     model.Role
	expires  time.Time
	expired  bool
	changed  bool

	once    sync.Once
	manager *Manager
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Identity returns a copy of the identity, or false when there is none.
func (s *Session) Identity() (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

func (s *Session) Role() model.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// IsAuthenticated is true only when both a token and an identity are present.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.identity != nil
}

// Expired reports whether the session was force-cleared while serving this request.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expired
}

// Changed reports whether the session id or lifetime changed and the cookie
// has to be rewritten.
func (s *Session) Changed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// ExpiresAt is the end of the stored session lifetime.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expires
}

// Expire is the forced-logout path taken when the clinic API rejects the
// token. Only the first call per session does any work; it reports whether
// this call was that first one.
func (s *Session) Expire(ctx context.Context) bool {
	if s.manager == nil {
		first := false
		s.once.Do(func() {
			first = true
			s.reset(true)
		})
		return first
	}
	return s.manager.Expire(ctx, s)
}

func (s *Session) set(id, token string, identity model.Identity, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != id {
		s.changed = true
	}
	if !s.expires.Equal(expires) {
		s.changed = true
	}
	s.id = id
	s.token = token
	s.identity = &identity
	s.role = identity.Role
	s.expires = expires
	s.expired = false
}

func (s *Session) reset(expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		s.changed = true
	}
	s.id = ""
	s.token = ""
	s.identity = nil
	s.role = ""
	s.expires = time.Time{}
	if expired {
		s.expired = true
	}
}

type ctxKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
