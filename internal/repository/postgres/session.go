package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type sessionRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// SessionStore keeps one row per session key. All rows of a session share the
// same expires_at.
type SessionStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) Load(ctx context.Context, id string) (map[string]string, error) {
	query := `
		SELECT key, value
		FROM portal_sessions
		WHERE session_id = $1
		AND expires_at > $2
	`

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, id, s.now()); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	return values, nil
}

func (s *SessionStore) Save(ctx context.Context, id string, values map[string]string, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl)
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM portal_sessions WHERE session_id = $1`, id); err != nil {
			return fmt.Errorf("failed to replace session: %w", err)
		}

		query := `
			INSERT INTO portal_sessions (session_id, key, value, expires_at)
			VALUES ($1, $2, $3, $4)
		`
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, query, id, k, v, expiresAt); err != nil {
				return fmt.Errorf("failed to save session key %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Cleanup removes every row that expired before cutoff and reports how many
// went.
func (s *SessionStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM portal_sessions WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
