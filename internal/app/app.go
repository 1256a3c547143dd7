// Package app wires configuration into the services shared by the API server and the workers.
package app

import (
	"context"
	"fmt"

	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/repository"
	"github.com/timmy/kbpipe/internal/service"
	"github.com/timmy/kbpipe/internal/storage"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"github.com/timmy/kbpipe/internal/worker"
	"gorm.io/gorm"
)

// App holds the initialized stack.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Vectors     *vectorstore.Store
	Storage     storage.ObjectStorage
	Repos       *service.Repositories
	Collections *service.CollectionService
	Datasets    *service.DatasetService
	Search      *service.SearchService
	WorkerDeps  worker.Deps
}

// New builds the stack described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	vectors, err := vectorstore.NewFromConfig(ctx, &cfg.Vector, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	objectStorage, err := storage.NewFromConfig(&cfg.Storage)
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if s3, ok := objectStorage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			_ = vectors.Close()
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}

	models, err := service.NewModelRegistry(&cfg.Models)
	if err != nil {
		_ = vectors.Close()
		return nil, err
	}

	repos := service.NewRepositories(db)
	llm := service.NewLLMService(models)
	embeddings := service.NewEmbeddingService(models)
	enhancer := enhance.NewGenerator(llm, models.DefaultLLM())
	reader := service.NewRawTextReader(objectStorage, &cfg.Reader)
	data := service.NewDataService(repos.Data, vectors, embeddings)
	usage := service.NewUsageService(repos.Usage)
	quota := service.NewQuotaService(vectors, cfg.Quota.TeamMaxVectors)

	collections := service.NewCollectionService(service.CollectionDeps{
		DB:        db,
		Repos:     repos,
		Vectors:   vectors,
		Storage:   objectStorage,
		Reader:    reader,
		Data:      data,
		Usage:     usage,
		Quota:     quota,
		Paragraph: service.NewParagraphService(llm, cfg.Training.ParagraphAIEnabled),
		Enhancer:  enhancer,
		Models:    models,
		Chunk:     cfg.Chunk,
		Dataset:   cfg.Dataset,
		Delete:    cfg.Delete,
	})

	llms, embeddingModels := models.Names()
	log.WithFields(logger.Fields{
		"vector_backend":   vectors.Backend(),
		"llm_models":       llms,
		"embedding_models": embeddingModels,
	}).Info("Application stack initialized")

	return &App{
		Config:      cfg,
		DB:          db,
		Vectors:     vectors,
		Storage:     objectStorage,
		Repos:       repos,
		Collections: collections,
		Datasets:    service.NewDatasetService(collections),
		Search:      service.NewSearchService(repos, vectors, embeddings),
		WorkerDeps: worker.Deps{
			DB:          db,
			Repos:       repos,
			Collections: collections,
			Data:        data,
			Reader:      reader,
			Usage:       usage,
			Quota:       quota,
			Enhancer:    enhancer,
			Models:      models,
		},
	}, nil
}

// Handlers returns one task handler per training mode.
func (a *App) Handlers() []worker.Handler {
	return []worker.Handler{
		worker.NewParseHandler(a.WorkerDeps),
		worker.NewChunkHandler(a.WorkerDeps),
		worker.NewIndexEnhanceHandler(a.WorkerDeps, a.Vectors),
	}
}

// Close releases the vector store and database connections.
func (a *App) Close() {
	if err := a.Vectors.Close(); err != nil {
		logger.GetDefault().WithError(err).Warn("Failed to close vector store")
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
