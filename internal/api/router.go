package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/api/handler"
	"github.com/timmy/kbpipe/internal/api/middleware"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/repository"
	"github.com/timmy/kbpipe/internal/service"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"gorm.io/gorm"
)

// RouterDeps holds the services exposed over HTTP.
type RouterDeps struct {
	DB          *gorm.DB
	Collections *service.CollectionService
	Datasets    *service.DatasetService
	Search      *service.SearchService
	Tasks       *repository.TrainingRepository
	Vectors     *vectorstore.Store
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps RouterDeps, cfg config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB, deps.Vectors.Backend())
	collectionHandler := handler.NewCollectionHandler(deps.Collections)
	datasetHandler := handler.NewDatasetHandler(deps.Datasets, deps.Tasks, deps.Vectors)
	searchHandler := handler.NewSearchHandler(deps.Search)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1", middleware.TeamScope())
	{
		// Collections
		v1.POST("/collections", collectionHandler.Create)
		v1.POST("/collections/:id/sync", collectionHandler.Sync)
		v1.DELETE("/collections/:id", collectionHandler.Delete)

		// Datasets
		v1.DELETE("/datasets/:id", datasetHandler.Delete)
		v1.POST("/datasets/:id/enhance-indexes", datasetHandler.EnhanceIndexes)
		v1.POST("/datasets/:id/transfer", datasetHandler.Transfer)

		// Recall
		v1.POST("/recall", searchHandler.Recall)

		// Stats
		v1.GET("/vectors/count", datasetHandler.VectorCount)
		v1.GET("/training/stats", datasetHandler.TrainingStats)
	}

	return r
}
