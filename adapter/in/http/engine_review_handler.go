package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/service/review"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// ReviewHandler handles HTTP requests for the human review queue
type ReviewHandler struct {
	service *review.Service
}

// NewReviewHandler creates a new ReviewHandler
func NewReviewHandler(service *review.Service) *ReviewHandler {
	return &ReviewHandler{service: service}
}

// Register registers review routes
func (h *ReviewHandler) Register(router fiber.Router) {
	reviews := router.Group("/reviews")

	reviews.Get("/", h.ListPending)
	reviews.Get("/:id", h.GetByID)
	reviews.Post("/:id/resolve", h.Resolve)
}

// ListPending returns review items still awaiting a verdict.
func (h *ReviewHandler) ListPending(c *fiber.Ctx) error {
	params := GetPaginationParams(c, 20)

	items, total, err := h.service.ListPending(c.Context(), params.Limit, params.Offset)
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "list pending reviews")
	}
	return SuccessResponse(c, NewListResponse(items, total, params.Offset, params.Limit))
}

// GetByID returns one review item.
func (h *ReviewHandler) GetByID(c *fiber.Ctx) error {
	item, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "get review")
	}
	return SuccessResponse(c, item)
}

// ResolveRequest carries a human verdict for a pending review item.
type ResolveRequest struct {
	Verdict     string `json:"verdict"`
	EditedReply string `json:"edited_reply,omitempty"`
}

// Resolve applies a human verdict to a pending review item.
func (h *ReviewHandler) Resolve(c *fiber.Ctx) error {
	var req ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid request body")
	}
	if req.Verdict == "" {
		return ErrorResponse(c, 400, apperr.CodeMissingField, "verdict is required")
	}

	item, err := h.service.Resolve(c.Context(), c.Params("id"), domain.Verdict(req.Verdict), req.EditedReply)
	if err != nil {
		// Delivery failure after a recorded verdict still returns the
		// resolved item so the operator sees the final state.
		if apperr.IsCode(err, apperr.CodeDeliveryFailed) && item != nil {
			return c.Status(fiber.StatusBadGateway).JSON(APIResponse{
				Success: false,
				Data:    item,
				Error: &APIError{
					Code:    apperr.CodeDeliveryFailed,
					Message: "verdict recorded but reply delivery failed",
				},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "resolve review")
	}
	return SuccessResponse(c, item)
}
