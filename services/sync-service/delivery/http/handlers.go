package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/servevlc/platform/pkg/logging"
	"github.com/servevlc/platform/services/sync-service/usecase"
	"github.com/servevlc/platform/shared/common"
)

// Handler serves the sync endpoints
type Handler struct {
	runner    Runner
	summaries SummaryReader
	breakers  BreakerStates
	service   string
	version   string
	logger    *logging.Logger
}

// Sync returns a handler running op. Item failures still answer 200;
// only a fatal step answers 500. A started run completes even if the
// client goes away.
func (h *Handler) Sync(op usecase.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := h.runner.Run(context.WithoutCancel(c.Request.Context()), op)

		status := http.StatusOK
		if result.Status == usecase.StatusError {
			status = http.StatusInternalServerError
			h.logger.Warn("Sync operation failed",
				zap.String("operation", string(op)),
				zap.String("message", result.Message))
		}
		c.JSON(status, result)
	}
}

// Summary returns the work item summary, optionally for ?owner=<local id>
func (h *Handler) Summary(c *gin.Context) {
	var ownerID *int64
	if raw := c.Query("owner"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(c, common.NewAppErrorWithDetails(common.ErrCodeInvalidInput, "invalid owner id", raw))
			return
		}
		ownerID = &id
	}

	summary, err := h.summaries.Summary(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.LogError(err, "Failed to compute summary")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Health reports service status and circuit breaker states. Any open
// breaker marks the service degraded.
func (h *Handler) Health(c *gin.Context) {
	health := gin.H{
		"status":    "healthy",
		"service":   h.service,
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	if h.breakers != nil {
		states := h.breakers.States()
		health["breakers"] = states
		for _, state := range states {
			if state == "open" {
				health["status"] = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}
	c.JSON(code, health)
}

// respondError aborts with the status carried by err. Errors outside the
// AppError taxonomy answer 500.
func respondError(c *gin.Context, err error) {
	appErr := common.GetAppError(err)
	if appErr == nil {
		appErr = common.ErrInternal("").WithCause(err)
	}
	body := gin.H{"error": string(appErr.Code), "message": appErr.Message}
	if appErr.Details != "" {
		body["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(appErr.StatusCode, body)
}
