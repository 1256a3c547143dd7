package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/kbpipe/internal/chunker"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/repository"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"gorm.io/gorm"
)

// ErrNoIndexEmbedded is returned when not a single index candidate of a chunk could be embedded.
var ErrNoIndexEmbedded = errors.New("no index candidate could be embedded")

// DataService embeds chunk indexes into the vector store and persists dataset data.
type DataService struct {
	repo     *repository.DataRepository
	vectors  *vectorstore.Store
	embedder Embedder
}

// NewDataService creates a new DataService.
func NewDataService(repo *repository.DataRepository, vectors *vectorstore.Store, embedder Embedder) *DataService {
	return &DataService{repo: repo, vectors: vectors, embedder: embedder}
}

// ChunkInput is one chunk ready to be embedded.
type ChunkInput struct {
	TeamID       string
	DatasetID    string
	CollectionID string
	ChunkIndex   int
	Q            string
	A            string
	ImageID      string
	Indexes      []domain.TaskIndex
	IndexSize    int
	Model        string
}

// PreparedData is an embedded chunk whose vectors are already stored.
type PreparedData struct {
	Data   *domain.DatasetData
	Tokens int
}

// VectorIDs returns the ids of the vectors inserted for this data.
func (p *PreparedData) VectorIDs() []string {
	ids := make([]string, 0, len(p.Data.Indexes))
	for _, idx := range p.Data.Indexes {
		ids = append(ids, idx.VectorID)
	}
	return ids
}

// IndexCandidates builds the default indexes from q and a split by indexSize,
// followed by the non-default supplied indexes, without repeats.
func IndexCandidates(q, a string, indexSize int, supplied []domain.TaskIndex) []domain.TaskIndex {
	text := q
	if strings.TrimSpace(a) != "" {
		text = q + "\n" + a
	}

	var out []domain.TaskIndex
	seen := make(map[string]struct{})
	add := func(t domain.IndexType, s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, domain.TaskIndex{Type: t, Text: s})
	}

	parts, err := chunker.Split(chunker.Options{
		RawText:     text,
		TriggerType: domain.ChunkTriggerForceChunk,
		ChunkSize:   indexSize,
	})
	if err != nil || len(parts) == 0 {
		add(domain.IndexTypeDefault, text)
	}
	for _, p := range parts {
		add(domain.IndexTypeDefault, p.Q)
	}
	for _, idx := range supplied {
		if idx.Type == domain.IndexTypeDefault {
			continue
		}
		add(domain.IndexTypeCustom, idx.Text)
	}
	return out
}

// Prepare embeds every index candidate and inserts its vector. A candidate that fails to
// embed or insert is logged and skipped; ErrNoIndexEmbedded is returned when none succeed.
func (s *DataService) Prepare(ctx context.Context, in ChunkInput) (*PreparedData, error) {
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldCollectionID: in.CollectionID,
		"chunk_index":            in.ChunkIndex,
	})

	data := &domain.DatasetData{
		ID:           domain.NewID(),
		TeamID:       in.TeamID,
		DatasetID:    in.DatasetID,
		CollectionID: in.CollectionID,
		ChunkIndex:   in.ChunkIndex,
		Q:            in.Q,
		A:            in.A,
		ImageID:      in.ImageID,
	}

	tokens := 0
	for _, cand := range IndexCandidates(in.Q, in.A, in.IndexSize, in.Indexes) {
		emb, err := s.embedder.Embed(ctx, cand.Text, in.Model)
		if err != nil {
			log.WithError(err).Warn("Failed to embed index candidate, skipping")
			continue
		}
		vectorID, err := s.vectors.Insert(ctx, vectorstore.InsertParams{
			TeamID:       in.TeamID,
			DatasetID:    in.DatasetID,
			CollectionID: in.CollectionID,
			Vector:       emb.Vector,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to insert index vector, skipping")
			continue
		}
		tokens += emb.Tokens
		data.Indexes = append(data.Indexes, domain.DatasetDataIndex{
			DataID:       data.ID,
			DatasetID:    in.DatasetID,
			CollectionID: in.CollectionID,
			Type:         cand.Type,
			Text:         cand.Text,
			VectorID:     vectorID,
			Position:     len(data.Indexes),
		})
	}

	if len(data.Indexes) == 0 {
		return nil, fmt.Errorf("chunk %d: %w", in.ChunkIndex, ErrNoIndexEmbedded)
	}
	return &PreparedData{Data: data, Tokens: tokens}, nil
}

// Persist writes prepared data and its index rows, joining tx when non-nil.
func (s *DataService) Persist(ctx context.Context, tx *gorm.DB, p *PreparedData) error {
	if err := s.repo.Create(ctx, tx, p.Data); err != nil {
		return fmt.Errorf("failed to create dataset data: %w", err)
	}
	return nil
}

// Discard removes the vectors of prepared data that was never persisted.
func (s *DataService) Discard(ctx context.Context, prepared ...*PreparedData) {
	for _, p := range prepared {
		if p == nil || len(p.Data.Indexes) == 0 {
			continue
		}
		err := s.vectors.Delete(ctx, vectorstore.DeleteFilter{TeamID: p.Data.TeamID, IDs: p.VectorIDs()})
		if err != nil {
			logger.FromContext(ctx).WithError(err).
				WithField(logger.FieldCollectionID, p.Data.CollectionID).
				Warn("Failed to discard vectors of unpersisted data")
		}
	}
}

// EmbedIndexes embeds new texts for existing data and returns their index rows,
// positioned after the data's current indexes. Failed texts are logged and skipped.
func (s *DataService) EmbedIndexes(ctx context.Context, data *domain.DatasetData, texts []string, model string) ([]domain.DatasetDataIndex, int) {
	var (
		out    []domain.DatasetDataIndex
		tokens int
	)
	for _, text := range texts {
		emb, err := s.embedder.Embed(ctx, text, model)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to embed enhanced index, skipping")
			continue
		}
		vectorID, err := s.vectors.Insert(ctx, vectorstore.InsertParams{
			TeamID:       data.TeamID,
			DatasetID:    data.DatasetID,
			CollectionID: data.CollectionID,
			Vector:       emb.Vector,
		})
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to insert enhanced index vector, skipping")
			continue
		}
		tokens += emb.Tokens
		out = append(out, domain.DatasetDataIndex{
			DataID:       data.ID,
			DatasetID:    data.DatasetID,
			CollectionID: data.CollectionID,
			Type:         domain.IndexTypeCustom,
			Text:         text,
			VectorID:     vectorID,
			Position:     len(data.Indexes) + len(out),
		})
	}
	return out, tokens
}
