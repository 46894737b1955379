package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-portal/internal/model"
	apperrors "github.com/jwalitptl/clinic-portal/pkg/errors"
)

// Directory is the part of the clinic API the search needs.
type Directory interface {
	Doctors(ctx context.Context) ([]model.Doctor, error)
	SearchDoctors(ctx context.Context, query string) ([]model.Doctor, error)
}

type Service struct {
	dir       Directory
	debouncer *Debouncer
	logger    zerolog.Logger
}

func NewService(dir Directory, debouncer *Debouncer, logger zerolog.Logger) *Service {
	return &Service{dir: dir, debouncer: debouncer, logger: logger}
}

// Search is the debounced type-ahead search. key identifies the searcher,
// normally the session id.
func (s *Service) Search(ctx context.Context, key, query string) ([]model.Doctor, error) {
	var result []model.Doctor
	err := s.debouncer.Do(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = s.Find(ctx, query)
		return err
	})
	return result, err
}

// Find searches immediately. An empty query lists everyone. When the search
// endpoint fails the full list is filtered locally instead.
func (s *Service) Find(ctx context.Context, query string) ([]model.Doctor, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.dir.Doctors(ctx)
	}

	found, err := s.dir.SearchDoctors(ctx, query)
	if err == nil {
		return found, nil
	}
	if apperrors.Is(err, apperrors.ErrUnauthorized) {
		return nil, err
	}

	s.logger.Warn().Err(err).Str("query", query).Msg("doctor search failed, filtering locally")
	all, listErr := s.dir.Doctors(ctx)
	if listErr != nil {
		return nil, err
	}
	return FilterLocal(all, query), nil
}

// FilterLocal keeps doctors whose name or specialization contains query,
// ignoring case.
func FilterLocal(doctors []model.Doctor, query string) []model.Doctor {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.Doctor, 0, len(doctors))
	for _, d := range doctors {
		if q == "" ||
			strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Specialization), q) {
			out = append(out, d)
		}
	}
	return out
}
