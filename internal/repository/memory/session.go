// Package memory keeps sessions in process memory. Sessions do not survive a
// restart and are not shared between replicas.
package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

type SessionStore struct {
	cache *cache.Cache
}

func NewSessionStore(defaultTTL, cleanupInterval time.Duration) *SessionStore {
	return &SessionStore{cache: cache.New(defaultTTL, cleanupInterval)}
}

func (s *SessionStore) Load(_ context.Context, id string) (map[string]string, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return map[string]string{}, nil
	}
	stored := v.(map[string]string)
	out := make(map[string]string, len(stored))
	for k, val := range stored {
		out[k] = val
	}
	return out, nil
}

func (s *SessionStore) Save(_ context.Context, id string, values map[string]string, ttl time.Duration) error {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.cache.Set(id, copied, ttl)
	return nil
}

func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

func (s *SessionStore) Ping(context.Context) error {
	return nil
}

// Len is the number of live sessions.
func (s *SessionStore) Len() int {
	return s.cache.ItemCount()
}
