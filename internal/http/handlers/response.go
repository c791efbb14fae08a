// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers every endpoint uses. Errors always
// carry an ErrorResponse with a stable code from errors.go; successes are
// the resource itself, not wrapped.
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "invalid_transition",
//	  "message": "invalid transition for duel 3f2a...: proposed -> in_progress"
//	}
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/http/middleware"
)

// RetryAfterUnavailable is the Retry-After hint, in seconds, sent with 503s.
const RetryAfterUnavailable = 5

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching client reports to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go).
	Code string `json:"code" example:"not_found"`
	// Human-readable message, safe to show to players.
	Message string `json:"message" example:"duel not found"`
}

// fail aborts with an ErrorResponse. 5xx are logged at error; rule
// rejections (409, 422) at debug so client bugs can be traced without
// flooding the logs.
func fail(c *gin.Context, status int, code, msg string) {
	rid := c.Writer.Header().Get("X-Request-ID")
	if rid == "" {
		rid = middleware.RequestIDFrom(c)
	}

	lg := middleware.LoggerFrom(c)
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		lg.Debug().Int("status", status).Str("code", code).Msg("rejected")
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(RetryAfterUnavailable))
	}

	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

// Fail is fail for callers outside this package (router fallbacks).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
