package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/visage/internal/api/handlers"
	"github.com/your-org/visage/internal/api/ws"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/queue"
	"github.com/your-org/visage/internal/storage"
	"github.com/your-org/visage/internal/transcript"
)

type RouterConfig struct {
	Engine        *identity.Engine
	MaxImageBytes int64
	// Transcripts extracts name and context from raw conversation text. Optional.
	Transcripts transcript.Extractor
	// Checks feed /readyz, keyed by dependency name.
	Checks map[string]handlers.Check

	// Async capture intake. All three are nil when the server runs synchronously.
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.Engine, cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/stats", systemH.Stats)

	faceH := handlers.NewFaceHandler(cfg.Engine, cfg.MaxImageBytes)
	v1.POST("/meetings", faceH.Meeting)
	v1.POST("/recognitions", faceH.Recognition)
	v1.POST("/encounters", faceH.Encounter)

	identH := handlers.NewIdentityHandler(cfg.Engine)
	v1.GET("/identities/search", identH.Search)
	v1.GET("/identities/:id", identH.Get)
	v1.PATCH("/identities/:id", identH.Update)

	photoH := handlers.NewPhotoHandler(cfg.Engine)
	photoH.Extractor = cfg.Transcripts
	v1.POST("/photos/:id/transcript", photoH.Transcript)
	v1.DELETE("/photos/:id", photoH.Delete)

	if cfg.MinIO != nil && cfg.Producer != nil {
		captureH := handlers.NewCaptureHandler(cfg.MinIO, cfg.Producer, cfg.MaxImageBytes)
		v1.POST("/captures", captureH.Create)
	}
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
