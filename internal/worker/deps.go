package worker

import (
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/service"
	"gorm.io/gorm"
)

// Deps holds what the task handlers need.
type Deps struct {
	DB          *gorm.DB
	Repos       *service.Repositories
	Collections *service.CollectionService
	Data        *service.DataService
	Reader      service.SourceReader
	Usage       *service.UsageService
	Quota       *service.QuotaService
	Enhancer    *enhance.Generator
	Models      *service.ModelRegistry
}
