package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clubhousegolfcanada/response-engine/core/service"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// AnalyticsHandler exposes aggregated execution metrics
type AnalyticsHandler struct {
	service *service.AnalyticsService
}

// NewAnalyticsHandler creates a new AnalyticsHandler
func NewAnalyticsHandler(service *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Register registers analytics routes
func (h *AnalyticsHandler) Register(router fiber.Router) {
	analytics := router.Group("/analytics")

	analytics.Get("/summary", h.Summary)
}

// Summary returns decision and outcome counts over a trailing window.
// The window query accepts Go duration syntax and defaults to 24h.
func (h *AnalyticsHandler) Summary(c *fiber.Ctx) error {
	window := 24 * time.Hour
	if raw := c.Query("window", ""); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid window duration")
		}
		window = parsed
	}

	summary, err := h.service.Summarize(c.Context(), window)
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "summarize executions")
	}
	return SuccessResponse(c, summary)
}
