// Package services defines the business logic for duels, screenshot
// verification and notifications. This file centralizes the service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// Duel-related errors.
var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuelNotFound indicates that the referenced duel does not exist.
	ErrDuelNotFound = errors.New("duel not found")

	// ErrNotParticipant is returned when a user acts on a duel they are not
	// part of, or when only the opponent may perform the action.
	ErrNotParticipant = errors.New("user may not act on this duel")

	// ErrChallengeExpired is returned when responding to a proposal after its
	// expiry. The periodic sweep moves the duel to expired.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrNotReady is returned by Resolve while the verification window is
	// still open and not both submissions are verified.
	ErrNotReady = errors.New("duel not ready to resolve")

	// ErrVerificationClosed is returned when a screenshot arrives after the
	// verification deadline.
	ErrVerificationClosed = errors.New("verification window closed")

	// ErrConflict is returned when the duel kept changing underneath the
	// caller and the bounded retries were exhausted.
	ErrConflict = errors.New("duel was modified concurrently")
)

// Verification errors. Both leave the duel in its current state.
var (
	ErrOracleUnavailable = errors.New("verification oracle unavailable")
	ErrLowConfidence     = errors.New("verification confidence too low")
)

// Notification and realtime errors.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrTransportDown        = errors.New("realtime transport down")
)

// ValidationError reports malformed input, rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransitionError explains a rejected state change. Op names operations
// that act within a status rather than moving to another one; To is then
// empty.
type TransitionError struct {
	DuelID string
	From   domain.DuelStatus
	To     domain.DuelStatus
	Op     string
}

func (e *TransitionError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("invalid transition for duel %s: cannot %s while %s", e.DuelID, e.Op, e.From)
	}
	return fmt.Sprintf("invalid transition for duel %s: %s -> %s", e.DuelID, e.From, e.To)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
