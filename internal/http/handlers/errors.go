// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package) and the translation of service errors into
// status and code pairs. Codes give clients a stable, machine-readable error taxonomy
// that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (e.g., bad_request, forbidden, conflict) mirror common HTTP
//     status semantics.
//   - Domain codes (e.g., invalid_transition, low_confidence) tell clients which
//     duel rule rejected the request, so they can branch without parsing messages.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "invalid_transition",
//     "message": "invalid transition for duel 3f2a...: completed -> in_progress"
//   }

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidation         = "validation_failed"
	ErrCodeInvalidTransition  = "invalid_transition"
	ErrCodeChallengeExpired   = "challenge_expired"
	ErrCodeNotReady           = "not_ready"
	ErrCodeVerificationClosed = "verification_closed"
	ErrCodeLowConfidence      = "low_confidence"
	ErrCodeOracleUnavailable  = "oracle_unavailable"
	ErrCodeTooLarge           = "payload_too_large"
	ErrCodeCreateFailed       = "create_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// failService maps a service error to its HTTP status and code. Unknown
// errors become a 500 with fallbackCode.
func failService(c *gin.Context, err error, fallbackCode string) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeValidation, ve.Error())
	case errors.Is(err, services.ErrDuelNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "duel not found")
	case errors.Is(err, services.ErrNotificationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
	case errors.Is(err, services.ErrNotParticipant):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrChallengeExpired):
		fail(c, http.StatusConflict, ErrCodeChallengeExpired, err.Error())
	case errors.Is(err, services.ErrNotReady):
		fail(c, http.StatusConflict, ErrCodeNotReady, err.Error())
	case errors.Is(err, services.ErrVerificationClosed):
		fail(c, http.StatusConflict, ErrCodeVerificationClosed, err.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, "duel changed concurrently, retry")
	case errors.Is(err, services.ErrLowConfidence):
		fail(c, http.StatusUnprocessableEntity, ErrCodeLowConfidence, "screenshot could not be read reliably, submit a clearer one")
	case errors.Is(err, services.ErrOracleUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeOracleUnavailable, "verification temporarily unavailable, screenshot kept")
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
