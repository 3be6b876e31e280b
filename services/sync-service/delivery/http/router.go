package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/usecase"
	"github.com/servevlc/platform/shared/common"
)

// Runner executes sync operations
type Runner interface {
	Run(ctx context.Context, op usecase.Operation) *usecase.Result
}

// SummaryReader serves the work item summary
type SummaryReader interface {
	Summary(ctx context.Context, ownerID *int64) (entity.Summary, error)
}

// BreakerStates reports circuit breaker states by name
type BreakerStates interface {
	States() map[string]string
}

// RequestRecorder receives per-request metrics
type RequestRecorder interface {
	RecordRequest(method, endpoint string, statusCode int, duration time.Duration)
}

// RouterConfig wires the dependencies of the HTTP surface. Breakers,
// Metrics and MetricsHandler are optional.
type RouterConfig struct {
	Runner         Runner
	Summaries      SummaryReader
	Breakers       BreakerStates
	Metrics        RequestRecorder
	MetricsHandler http.Handler
	MetricsPath    string
	JWT            common.JWTConfig
	ServiceName    string
	Version        string
	Logger         *logging.Logger
}

// NewRouter builds the gin engine exposing the sync operations
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	h := &Handler{
		runner:    cfg.Runner,
		summaries: cfg.Summaries,
		breakers:  cfg.Breakers,
		service:   cfg.ServiceName,
		version:   cfg.Version,
		logger:    cfg.Logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger, cfg.Metrics))

	router.GET("/healthz", h.Health)
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(cfg.MetricsHandler))
	}

	api := router.Group("/")
	if cfg.JWT.Enabled {
		api.Use(RequireAdmin(cfg.JWT, cfg.Logger))
	}

	sync := api.Group("/sync")
	{
		sync.POST("/accounts", h.Sync(usecase.OpAccounts))
		sync.POST("/account-history", h.Sync(usecase.OpAccountHistory))
		sync.POST("/work-items", h.Sync(usecase.OpWorkItems))
		sync.POST("/work-item-history", h.Sync(usecase.OpWorkItemHistory))
		sync.POST("/snapshot", h.Sync(usecase.OpSnapshot))
		sync.POST("/all", h.Sync(usecase.OpAll))
	}
	api.GET("/summary", h.Summary)

	return router
}

func requestLogger(logger *logging.Logger, metrics RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		if metrics != nil {
			metrics.RecordRequest(c.Request.Method, endpoint, c.Writer.Status(), duration)
		}
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", endpoint),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration))
	}
}
