package service

import (
	"github.com/timmy/kbpipe/internal/repository"
	"gorm.io/gorm"
)

// Repositories groups every relational repository the pipeline writes to.
type Repositories struct {
	Datasets    *repository.DatasetRepository
	Collections *repository.CollectionRepository
	Training    *repository.TrainingRepository
	Data        *repository.DataRepository
	Images      *repository.ImageRepository
	Usage       *repository.UsageRepository
}

// NewRepositories creates all repositories over one database handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Datasets:    repository.NewDatasetRepository(db),
		Collections: repository.NewCollectionRepository(db),
		Training:    repository.NewTrainingRepository(db),
		Data:        repository.NewDataRepository(db),
		Images:      repository.NewImageRepository(db),
		Usage:       repository.NewUsageRepository(db),
	}
}
