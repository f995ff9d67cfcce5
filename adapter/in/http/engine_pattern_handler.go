package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
	"github.com/clubhousegolfcanada/response-engine/core/service"
	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
)

// PatternHandler handles HTTP requests for response patterns
type PatternHandler struct {
	service *service.PatternService
}

// NewPatternHandler creates a new PatternHandler
func NewPatternHandler(service *service.PatternService) *PatternHandler {
	return &PatternHandler{service: service}
}

// Register registers pattern routes
func (h *PatternHandler) Register(router fiber.Router) {
	patterns := router.Group("/patterns")

	patterns.Get("/", h.List)
	patterns.Get("/:id", h.GetByID)
	patterns.Post("/", h.Create)
	patterns.Post("/import", h.Import)
	patterns.Post("/:id/enable", h.Enable)
	patterns.Post("/:id/disable", h.Disable)
}

// PatternResponse represents the HTTP response for a pattern
type PatternResponse struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	TriggerExamples []string `json:"trigger_examples"`
	RequiredTerms   []string `json:"required_terms,omitempty"`
	ForbiddenTerms  []string `json:"forbidden_terms,omitempty"`
	Template        string   `json:"template"`
	ActionKind      string   `json:"action_kind"`
	ExecutionCount  int      `json:"execution_count"`
	AcceptedCount   int      `json:"accepted_count"`
	RejectedCount   int      `json:"rejected_count"`
	Confidence      float64  `json:"confidence"`
	LastUsedAt      *string  `json:"last_used_at,omitempty"`
	Enabled         bool     `json:"enabled"`
	AutoExecutable  bool     `json:"auto_executable"`
	SafetyTags      []string `json:"safety_tags,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

func toPatternResponse(p *domain.Pattern) PatternResponse {
	resp := PatternResponse{
		ID:              p.ID,
		Name:            p.Name,
		Category:        p.Category,
		TriggerExamples: p.TriggerExamples,
		RequiredTerms:   p.RequiredTerms,
		ForbiddenTerms:  p.ForbiddenTerms,
		Template:        p.Template,
		ActionKind:      string(p.ActionKind),
		ExecutionCount:  p.ExecutionCount,
		AcceptedCount:   p.AcceptedCount,
		RejectedCount:   p.RejectedCount,
		Confidence:      p.Confidence,
		Enabled:         p.Enabled,
		AutoExecutable:  p.AutoExecutable,
		SafetyTags:      p.SafetyTags,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
	if p.LastUsedAt != nil {
		s := p.LastUsedAt.Format(time.RFC3339)
		resp.LastUsedAt = &s
	}
	return resp
}

// List returns patterns, optionally filtered by category.
func (h *PatternHandler) List(c *fiber.Ctx) error {
	params := GetPaginationParams(c, 50)
	category := c.Query("category", "")

	patterns, total, err := h.service.List(c.Context(), category, params.Limit, params.Offset)
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "list patterns")
	}

	responses := make([]PatternResponse, len(patterns))
	for i, p := range patterns {
		responses[i] = toPatternResponse(p)
	}
	return SuccessResponse(c, NewListResponse(responses, total, params.Offset, params.Limit))
}

// GetByID returns one pattern.
func (h *PatternHandler) GetByID(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid pattern id")
	}

	p, err := h.service.Get(c.Context(), id)
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "get pattern")
	}
	return SuccessResponse(c, toPatternResponse(p))
}

// Create stores a new curated pattern.
func (h *PatternHandler) Create(c *fiber.Ctx) error {
	var spec service.PatternSpec
	if err := c.BodyParser(&spec); err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid request body")
	}

	p, err := h.service.Create(c.Context(), &spec)
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "create pattern")
	}
	return c.Status(fiber.StatusCreated).JSON(APIResponse{
		Success:   true,
		Data:      toPatternResponse(p),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ImportRequest represents a bulk import request.
type ImportRequest struct {
	Patterns []*service.PatternSpec `json:"patterns"`
}

// Import stores a batch of patterns.
func (h *PatternHandler) Import(c *fiber.Ctx) error {
	var req ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid request body")
	}
	if len(req.Patterns) == 0 {
		return ErrorResponse(c, 400, apperr.CodeMissingField, "patterns is required")
	}

	result, err := h.service.Import(c.Context(), req.Patterns)
	if err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "import patterns")
	}
	return SuccessResponse(c, result)
}

// Enable turns a pattern back on for matching.
func (h *PatternHandler) Enable(c *fiber.Ctx) error {
	return h.setEnabled(c, true)
}

// Disable removes a pattern from matching without deleting its history.
func (h *PatternHandler) Disable(c *fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *PatternHandler) setEnabled(c *fiber.Ctx, enabled bool) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return ErrorResponse(c, 400, apperr.CodeBadRequest, "invalid pattern id")
	}

	if err := h.service.SetEnabled(c.Context(), id, enabled); err != nil {
		if apperr.IsAppError(err) {
			return AppErrorResponse(c, err)
		}
		return InternalErrorResponse(c, err, "toggle pattern")
	}
	return SuccessResponse(c, fiber.Map{"id": id, "enabled": enabled})
}
