package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/handlers"
	httpMW "github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/middleware"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/observability"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	Metrics     *observability.Metrics
	WebhookAuth *httpMW.WebhookAuth

	HealthHandler *httpH.HealthHandler
	EventHandler  *httpH.EventHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := r.Group("/v1")
	{
		if cfg.WebhookAuth != nil {
			v1.Use(cfg.WebhookAuth.RequireToken())
		}
		// Event sources
		if cfg.EventHandler != nil {
			v1.POST("/identity/events", cfg.EventHandler.Identity)
			v1.POST("/storage/events", cfg.EventHandler.Storage)
		}
	}

	return r
}
