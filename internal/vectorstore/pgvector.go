package vectorstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PgVectorBackend stores vectors in a PostgreSQL table with the vector extension.
type PgVectorBackend struct {
	db         *gorm.DB
	table      string
	dimensions int
}

// NewPgVectorBackend connects to dsn and prepares the vector table.
func NewPgVectorBackend(ctx context.Context, dsn, table string, dimensions int) (*PgVectorBackend, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", table)
	}
	if dimensions <= 0 {
		dimensions = defaultVectorDimension
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pgvector: %w", err)
	}

	b := &PgVectorBackend{db: db, table: table, dimensions: dimensions}
	if err := b.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PgVectorBackend) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			team_id text NOT NULL,
			dataset_id text NOT NULL,
			collection_id text NOT NULL,
			vector vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, b.table, b.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_team_dataset_idx ON %s (team_id, dataset_id, collection_id)`, b.table, b.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_vector_idx ON %s USING hnsw (vector vector_cosine_ops) WITH (m = 32, ef_construction = 128)`, b.table, b.table),
	}
	for _, stmt := range stmts {
		if err := b.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to prepare pgvector schema: %w", err)
		}
	}
	return nil
}

func (b *PgVectorBackend) Name() string { return "pgvector" }

func (b *PgVectorBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *PgVectorBackend) Insert(ctx context.Context, p InsertParams) (string, error) {
	id := uuid.New().String()
	err := b.db.WithContext(ctx).Exec(
		fmt.Sprintf(`INSERT INTO %s (id, team_id, dataset_id, collection_id, vector) VALUES (?, ?, ?, ?, ?)`, b.table),
		id, p.TeamID, p.DatasetID, p.CollectionID, pgvector.NewVector(p.Vector),
	).Error
	if err != nil {
		return "", fmt.Errorf("failed to insert vector: %w", err)
	}
	return id, nil
}

func (b *PgVectorBackend) Delete(ctx context.Context, f DeleteFilter) error {
	if f.empty() {
		return ErrEmptyFilter
	}
	where, arg := "dataset_id IN ?", interface{}(f.DatasetIDs)
	switch {
	case len(f.IDs) > 0:
		where, arg = "id IN ?", f.IDs
	case len(f.CollectionIDs) > 0:
		where, arg = "collection_id IN ?", f.CollectionIDs
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE team_id = ? AND %s`, b.table, where)
	if err := b.db.WithContext(ctx).Exec(stmt, f.TeamID, arg).Error; err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (b *PgVectorBackend) Recall(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	vec := pgvector.NewVector(p.Vector)
	q := b.db.WithContext(ctx).Table(b.table).
		Select("id, collection_id, 1 - (vector <=> ?) AS score", vec).
		Where("team_id = ? AND dataset_id IN ?", p.TeamID, p.DatasetIDs)
	if len(p.ForbidCollectionIDs) > 0 {
		q = q.Where("collection_id NOT IN ?", p.ForbidCollectionIDs)
	}
	if len(p.FilterCollectionIDs) > 0 {
		q = q.Where("collection_id IN ?", p.FilterCollectionIDs)
	}

	var rows []struct {
		ID           string
		CollectionID string
		Score        float32
	}
	err := q.Order(gorm.Expr("vector <=> ?", vec)).Limit(p.Limit).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to recall vectors: %w", err)
	}

	results := make([]RecallResult, len(rows))
	for i, row := range rows {
		results[i] = RecallResult{ID: row.ID, CollectionID: row.CollectionID, Score: row.Score}
	}
	return results, nil
}

func (b *PgVectorBackend) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := b.db.WithContext(ctx).Table(b.table).Where(query, args...).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

func (b *PgVectorBackend) CountByTeam(ctx context.Context, teamID string) (int64, error) {
	return b.count(ctx, "team_id = ?", teamID)
}

func (b *PgVectorBackend) CountByDataset(ctx context.Context, teamID, datasetID string) (int64, error) {
	return b.count(ctx, "team_id = ? AND dataset_id = ?", teamID, datasetID)
}

func (b *PgVectorBackend) CountByCollection(ctx context.Context, teamID, collectionID string) (int64, error) {
	return b.count(ctx, "team_id = ? AND collection_id = ?", teamID, collectionID)
}

// RelabelTeam moves every vector of the given datasets to newTeamID in one statement.
func (b *PgVectorBackend) RelabelTeam(ctx context.Context, oldTeamID, newTeamID string, datasetIDs []string) (int64, error) {
	if len(datasetIDs) == 0 {
		return 0, nil
	}
	result := b.db.WithContext(ctx).Table(b.table).
		Where("team_id = ? AND dataset_id IN ?", oldTeamID, datasetIDs).
		Update("team_id", newTeamID)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to relabel vectors: %w", result.Error)
	}
	return result.RowsAffected, nil
}
