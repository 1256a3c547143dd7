package vectorstore

import (
	"context"
	"io"
	"time"

	"github.com/timmy/kbpipe/internal/logger"
)

const (
	defaultCountTTL       = 30 * time.Minute
	defaultDebounceWindow = 30 * time.Second
)

// Store is the adapter every caller talks to: a Backend plus the team count cache.
type Store struct {
	backend   Backend
	cache     CountCache
	ttl       time.Duration
	debouncer *Debouncer
}

// Option configures a Store.
type Option func(*Store)

// WithCountCache replaces the default in-process count cache.
func WithCountCache(cache CountCache, ttl time.Duration) Option {
	return func(s *Store) {
		if cache != nil {
			s.cache = cache
		}
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithDebounceWindow sets the invalidation coalescing window.
func WithDebounceWindow(window time.Duration) Option {
	return func(s *Store) {
		if window > 0 {
			s.debouncer = NewDebouncer(window)
		}
	}
}

// New wraps backend with counting and cache maintenance.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cache:   NewMemoryCountCache(),
		ttl:     defaultCountTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.debouncer == nil {
		s.debouncer = NewDebouncer(defaultDebounceWindow)
	}
	return s
}

// Backend exposes the underlying engine name for diagnostics.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Insert stores one vector and bumps the cached team count if present.
func (s *Store) Insert(ctx context.Context, p InsertParams) (string, error) {
	id, err := s.backend.Insert(ctx, p)
	if err != nil {
		return "", err
	}
	if err := s.cache.IncrIfExists(ctx, teamCountKey(p.TeamID), 1); err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldTeamID, p.TeamID).
			Warn("Failed to increment cached vector count")
	}
	return id, nil
}

// Delete removes vectors and schedules invalidation of the team count.
func (s *Store) Delete(ctx context.Context, f DeleteFilter) error {
	if err := s.backend.Delete(ctx, f); err != nil {
		return err
	}
	s.invalidateTeam(ctx, f.TeamID)
	return nil
}

// Recall runs a similarity query.
func (s *Store) Recall(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	if len(p.DatasetIDs) == 0 {
		return []RecallResult{}, nil
	}
	return s.backend.Recall(ctx, p)
}

// CountByTeam reads the team count through the cache.
func (s *Store) CountByTeam(ctx context.Context, teamID string) (int64, error) {
	key := teamCountKey(teamID)
	n, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldTeamID, teamID).
			Warn("Failed to read cached vector count, falling back to backend")
	} else if ok {
		return n, nil
	}

	n, err = s.backend.CountByTeam(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, key, n, s.ttl); err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldTeamID, teamID).
			Warn("Failed to cache vector count")
	}
	return n, nil
}

// CountByDataset counts a dataset's vectors; it is not cached.
func (s *Store) CountByDataset(ctx context.Context, teamID, datasetID string) (int64, error) {
	return s.backend.CountByDataset(ctx, teamID, datasetID)
}

// CountByCollection counts a collection's vectors; it is not cached.
func (s *Store) CountByCollection(ctx context.Context, teamID, collectionID string) (int64, error) {
	return s.backend.CountByCollection(ctx, teamID, collectionID)
}

// RelabelTeam moves the vectors of datasetIDs from one team to another.
// Backends that cannot relabel report 0 migrated vectors with a warning.
func (s *Store) RelabelTeam(ctx context.Context, oldTeamID, newTeamID string, datasetIDs []string) (int64, error) {
	relabeler, ok := s.backend.(Relabeler)
	if !ok {
		logger.FromContext(ctx).WithFields(logger.Fields{
			"backend":     s.backend.Name(),
			"old_team_id": oldTeamID,
			"new_team_id": newTeamID,
		}).Warn("Vector backend does not support team relabel")
		return 0, nil
	}

	migrated, err := relabeler.RelabelTeam(ctx, oldTeamID, newTeamID, datasetIDs)
	if err != nil {
		return 0, err
	}
	for _, team := range []string{oldTeamID, newTeamID} {
		if err := s.cache.Delete(ctx, teamCountKey(team)); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldTeamID, team).
				Warn("Failed to drop cached vector count")
		}
	}
	return migrated, nil
}

func (s *Store) invalidateTeam(ctx context.Context, teamID string) {
	key := teamCountKey(teamID)
	log := logger.FromContext(ctx).WithField(logger.FieldTeamID, teamID)
	s.debouncer.Trigger(key, func() {
		if err := s.cache.Delete(context.Background(), key); err != nil {
			log.WithError(err).Warn("Failed to invalidate cached vector count")
		}
	})
}

// Close stops pending invalidations and closes the backend.
func (s *Store) Close() error {
	s.debouncer.Stop()
	if closer, ok := s.cache.(io.Closer); ok {
		closer.Close()
	}
	return s.backend.Close()
}
