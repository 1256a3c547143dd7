// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/repository"
	"gorm.io/gorm"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// NewDB opens a migrated in-memory sqlite database private to the calling test.
// A single connection keeps the shared-cache database alive and serializes writers.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := unsafeName.ReplaceAllString(t.Name(), "_")
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file:" + name + "?mode=memory&cache=shared&_busy_timeout=5000",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedDataset inserts a dataset owned by teamID.
func SeedDataset(t *testing.T, db *gorm.DB, teamID string) *domain.Dataset {
	t.Helper()
	ds := &domain.Dataset{
		TeamID:      teamID,
		Name:        "dataset",
		Type:        domain.DatasetTypeDataset,
		VectorModel: "test-embedding",
		AgentModel:  "test-llm",
	}
	require.NoError(t, db.Create(ds).Error)
	return ds
}

// SeedCollection inserts a collection inside ds. mutate may adjust fields before insert.
func SeedCollection(t *testing.T, db *gorm.DB, ds *domain.Dataset, mutate func(*domain.Collection)) *domain.Collection {
	t.Helper()
	col := &domain.Collection{
		TeamID:       ds.TeamID,
		DatasetID:    ds.ID,
		Name:         "collection",
		Type:         domain.CollectionTypeVirtual,
		TrainingType: domain.TrainingTypeChunk,
	}
	if mutate != nil {
		mutate(col)
	}
	require.NoError(t, db.Create(col).Error)
	return col
}
