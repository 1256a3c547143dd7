package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/vectorstore"
)

const (
	defaultTopK = 20
	maxTopK     = 100
)

// SearchService recalls dataset data by embedding similarity.
type SearchService struct {
	repos    *Repositories
	vectors  *vectorstore.Store
	embedder Embedder
}

// NewSearchService creates a new search service.
func NewSearchService(repos *Repositories, vectors *vectorstore.Store, embedder Embedder) *SearchService {
	return &SearchService{repos: repos, vectors: vectors, embedder: embedder}
}

// SearchRequest represents a recall request over one or more datasets of a team.
type SearchRequest struct {
	TeamID              string   `json:"team_id"`
	DatasetIDs          []string `json:"dataset_ids" binding:"required,min=1"`
	Query               string   `json:"query" binding:"required"`
	TopK                int      `json:"top_k"`
	FilterCollectionIDs []string `json:"filter_collection_ids,omitempty"`
	ForbidCollectionIDs []string `json:"forbid_collection_ids,omitempty"`
}

// SearchResult represents one recalled data row.
type SearchResult struct {
	DataID       string  `json:"data_id"`
	DatasetID    string  `json:"dataset_id"`
	CollectionID string  `json:"collection_id"`
	Q            string  `json:"q"`
	A            string  `json:"a,omitempty"`
	MatchedIndex string  `json:"matched_index"`
	Score        float32 `json:"score"`
}

// SearchResponse represents the recall response.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

// Recall embeds the query with the first dataset's vector model and returns the best
// scoring data rows. A row matched through several indexes appears once, with its best score.
func (s *SearchService) Recall(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" || len(req.DatasetIDs) == 0 {
		return nil, domain.ErrMissingParams
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	datasets, err := s.repos.Datasets.ListByIDs(ctx, req.DatasetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load datasets: %w", err)
	}
	if len(datasets) != len(req.DatasetIDs) {
		return nil, domain.ErrDatasetNotFound
	}
	for _, ds := range datasets {
		if ds.TeamID != req.TeamID {
			return nil, domain.ErrDatasetNotFound
		}
	}

	emb, err := s.embedder.Embed(ctx, query, datasets[0].VectorModel)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.vectors.Recall(ctx, vectorstore.RecallParams{
		TeamID:              req.TeamID,
		DatasetIDs:          req.DatasetIDs,
		Vector:              emb.Vector,
		Limit:               topK * 2,
		FilterCollectionIDs: req.FilterCollectionIDs,
		ForbidCollectionIDs: req.ForbidCollectionIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recall vectors: %w", err)
	}

	results, err := s.resolve(ctx, hits, topK)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldTeamID: req.TeamID,
		logger.FieldCount:  len(results),
		"vector_hits":      len(hits),
	}).Debug("Recall completed")

	return &SearchResponse{Results: results, Total: len(results), Query: query}, nil
}

// resolve maps vector hits (best first) to data rows, keeping the first hit per row.
func (s *SearchService) resolve(ctx context.Context, hits []vectorstore.RecallResult, topK int) ([]SearchResult, error) {
	vectorIDs := make([]string, 0, len(hits))
	for _, h := range hits {
		vectorIDs = append(vectorIDs, h.ID)
	}
	indexes, err := s.repos.Data.ListIndexesByVectorIDs(ctx, vectorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recalled vectors: %w", err)
	}
	byVector := make(map[string]domain.DatasetDataIndex, len(indexes))
	dataIDs := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		byVector[idx.VectorID] = idx
		dataIDs = append(dataIDs, idx.DataID)
	}

	rows, err := s.repos.Data.ListByIDs(ctx, dataIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load recalled data: %w", err)
	}
	byID := make(map[string]domain.DatasetData, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	results := make([]SearchResult, 0, topK)
	seen := make(map[string]bool)
	for _, h := range hits {
		idx, ok := byVector[h.ID]
		if !ok || seen[idx.DataID] {
			continue
		}
		row, ok := byID[idx.DataID]
		if !ok {
			continue
		}
		seen[idx.DataID] = true
		results = append(results, SearchResult{
			DataID:       row.ID,
			DatasetID:    row.DatasetID,
			CollectionID: row.CollectionID,
			Q:            row.Q,
			A:            row.A,
			MatchedIndex: idx.Text,
			Score:        h.Score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}
