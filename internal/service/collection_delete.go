package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/storage"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// DeleteOptions selects which attached objects are removed with the collections.
type DeleteOptions struct {
	DeleteImages   bool
	DeleteRawFiles bool
}

// purgeScope is everything one team owns below a set of collections or datasets.
type purgeScope struct {
	teamID        string
	collections   []domain.Collection
	collectionIDs []string
	datasetIDs    []string
}

// FindWithChildren returns a collection followed by every collection nested below it.
func (s *CollectionService) FindWithChildren(ctx context.Context, teamID, collectionID string) ([]domain.Collection, error) {
	root, err := s.repos.Collections.GetByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if root.TeamID != teamID {
		return nil, domain.ErrCollectionNotFound
	}

	result := []domain.Collection{*root}
	visited := map[string]bool{root.ID: true}
	queue := []string{root.ID}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		children, err := s.repos.Collections.ListChildren(ctx, teamID, parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to list child collections: %w", err)
		}
		for _, c := range children {
			if visited[c.ID] {
				continue
			}
			visited[c.ID] = true
			result = append(result, c)
			queue = append(queue, c.ID)
		}
	}
	return result, nil
}

// Delete removes collections with their tasks, data, vectors and optionally
// their images and raw files. Dependent objects are deleted in parallel before
// the collection rows; the whole pass is retried on failure.
func (s *CollectionService) Delete(ctx context.Context, collections []domain.Collection, opts DeleteOptions) error {
	if len(collections) == 0 {
		return nil
	}

	byTeam := make(map[string]*purgeScope)
	for _, c := range collections {
		scope, ok := byTeam[c.TeamID]
		if !ok {
			scope = &purgeScope{teamID: c.TeamID}
			byTeam[c.TeamID] = scope
		}
		scope.collections = append(scope.collections, c)
		scope.collectionIDs = append(scope.collectionIDs, c.ID)
	}

	for _, scope := range byTeam {
		err := s.withRetry(ctx, "delete collections", func() error {
			if err := s.purge(ctx, scope, opts); err != nil {
				return err
			}
			return s.repos.Collections.DeleteByIDs(ctx, nil, scope.collectionIDs)
		})
		if err != nil {
			return err
		}
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldTeamID: scope.teamID,
			logger.FieldCount:  len(scope.collectionIDs),
		}).Info("Collections deleted")
	}
	return nil
}

// purge deletes everything that hangs off the scope, fanning out one goroutine per store.
func (s *CollectionService) purge(ctx context.Context, scope *purgeScope, opts DeleteOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.repos.Training.DeleteByCollections(gctx, nil, scope.teamID, scope.collectionIDs); err != nil {
			return fmt.Errorf("failed to delete training tasks: %w", err)
		}
		if err := s.repos.Training.DeleteByDatasets(gctx, scope.teamID, scope.datasetIDs); err != nil {
			return fmt.Errorf("failed to delete training tasks: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.repos.Data.DeleteByCollections(gctx, scope.teamID, scope.collectionIDs); err != nil {
			return fmt.Errorf("failed to delete dataset data: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		filter := vectorstore.DeleteFilter{TeamID: scope.teamID, CollectionIDs: scope.collectionIDs}
		if len(scope.datasetIDs) > 0 {
			filter = vectorstore.DeleteFilter{TeamID: scope.teamID, DatasetIDs: scope.datasetIDs}
		}
		if len(filter.CollectionIDs) == 0 && len(filter.DatasetIDs) == 0 {
			return nil
		}
		if err := s.vectors.Delete(gctx, filter); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
		return nil
	})

	if opts.DeleteImages {
		g.Go(func() error {
			images, err := s.repos.Images.ListByCollections(gctx, scope.teamID, scope.collectionIDs)
			if err != nil {
				return fmt.Errorf("failed to list images: %w", err)
			}
			related, err := s.repos.Images.ListByRelatedIDs(gctx, scope.teamID, relatedImageIDs(scope.collections))
			if err != nil {
				return fmt.Errorf("failed to list related images: %w", err)
			}
			images = append(images, related...)

			seen := make(map[string]bool, len(images))
			keys := make([]string, 0, len(images))
			ids := make([]string, 0, len(images))
			for _, img := range images {
				if seen[img.ID] {
					continue
				}
				seen[img.ID] = true
				ids = append(ids, img.ID)
				if img.StorageKey != "" {
					keys = append(keys, img.StorageKey)
				}
			}
			if err := s.storage.DeleteMany(gctx, keys); err != nil {
				return fmt.Errorf("failed to delete image objects: %w", err)
			}
			if err := s.repos.Images.DeleteByIDs(gctx, ids); err != nil {
				return fmt.Errorf("failed to delete images: %w", err)
			}
			return nil
		})
	}

	if opts.DeleteRawFiles {
		g.Go(func() error {
			var keys []string
			for _, c := range scope.collections {
				if c.Type == domain.CollectionTypeFile && c.FileID != "" {
					keys = append(keys, storage.RawFileKey(c.FileID))
				}
			}
			if err := s.storage.DeleteMany(gctx, keys); err != nil {
				return fmt.Errorf("failed to delete raw files: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// relatedImageIDs collects the related image ids recorded in collection metadata.
func relatedImageIDs(collections []domain.Collection) []string {
	var ids []string
	for _, c := range collections {
		if id := c.Metadata.Data().RelatedImgID; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// withRetry runs fn up to the configured number of attempts.
func (s *CollectionService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.deleteCfg.RetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.FromContext(ctx).WithError(err).WithFields(logger.Fields{
			"operation": op,
			"attempt":   attempt,
		}).Warn("Delete attempt failed")

		if attempt == s.deleteCfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.deleteCfg.RetryDelay):
		}
	}
	return fmt.Errorf("failed to %s after %d attempts: %w", op, s.deleteCfg.RetryAttempts, err)
}

// deleteDatasets removes every collection and object of the given datasets, then the dataset rows.
func (s *CollectionService) deleteDatasets(ctx context.Context, teamID string, datasetIDs []string) error {
	collections, err := s.repos.Collections.ListByDatasets(ctx, teamID, datasetIDs)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	scope := &purgeScope{teamID: teamID, collections: collections, datasetIDs: datasetIDs}
	for _, c := range collections {
		scope.collectionIDs = append(scope.collectionIDs, c.ID)
	}

	return s.withRetry(ctx, "delete datasets", func() error {
		if err := s.purge(ctx, scope, DeleteOptions{DeleteImages: true, DeleteRawFiles: true}); err != nil {
			return err
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repos.Collections.DeleteByIDs(ctx, tx, scope.collectionIDs); err != nil {
				return err
			}
			return s.repos.Datasets.DeleteByIDs(ctx, tx, datasetIDs)
		})
	})
}
