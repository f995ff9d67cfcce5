// Package http provides the fiber handlers for the operator-facing API:
// pattern management, the review queue, bulk import and analytics.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clubhousegolfcanada/response-engine/pkg/apperr"
	"github.com/clubhousegolfcanada/response-engine/pkg/logger"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// APIError represents a standard API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse sends a standardized JSON error response
func ErrorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// AppErrorResponse handles apperr.AppError and returns appropriate response
func AppErrorResponse(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// InternalErrorResponse returns a safe 500 without leaking internals. The
// real error is logged with context.
func InternalErrorResponse(c *fiber.Ctx, err error, operation string) error {
	logger.WithError(err).WithField("operation", operation).Error("internal error")
	return ErrorResponse(c, 500, apperr.CodeInternalError, operation+" failed")
}

// SuccessResponse sends a standardized JSON success response
func SuccessResponse(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ListResponse represents a paginated list response
type ListResponse struct {
	Data     interface{} `json:"data"`
	Total    int         `json:"total"`
	HasMore  bool        `json:"has_more"`
	PageSize int         `json:"page_size"`
}

// NewListResponse creates a list response with has_more calculation
func NewListResponse(data interface{}, total, offset, limit int) ListResponse {
	return ListResponse{
		Data:     data,
		Total:    total,
		HasMore:  offset+limit < total,
		PageSize: limit,
	}
}

// PaginationParams holds common pagination parameters
type PaginationParams struct {
	Limit  int
	Offset int
}

// GetPaginationParams extracts pagination params from query
func GetPaginationParams(c *fiber.Ctx, defaultLimit int) PaginationParams {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > 100 {
		limit = 100
	}
	return PaginationParams{
		Limit:  limit,
		Offset: c.QueryInt("offset", 0),
	}
}
