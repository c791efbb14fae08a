// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on, the
// Handlers aggregate, and helpers shared across endpoints (caller identity,
// pagination, weak ETags).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/feed"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/http/middleware"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/utils"
)

//
// Service contracts (context-aware)
//

// DuelService is the lifecycle engine as seen by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DuelService interface {
	Get(ctx context.Context, id string) (*domain.Duel, error)
	ListForUser(ctx context.Context, userID string, statuses []domain.DuelStatus, page, pageSize int) ([]domain.Duel, int64, error)
	Propose(ctx context.Context, in services.ProposeInput) (*domain.Duel, error)
	Respond(ctx context.Context, duelID, byUserID string, accept bool) (*domain.Duel, error)
	StartMatch(ctx context.Context, duelID, byUserID string) (*domain.Duel, error)
	EndMatch(ctx context.Context, duelID, byUserID string) (*domain.Duel, error)
	Cancel(ctx context.Context, duelID, byUserID string) (*domain.Duel, error)
	RaiseDispute(ctx context.Context, duelID, byUserID, reason string) (*domain.Duel, error)
	Resolve(ctx context.Context, duelID string) (*services.Outcome, error)
	SubmitScreenshot(ctx context.Context, in services.SubmitInput) (*domain.Submission, error)
	Submissions(ctx context.Context, duelID string) (map[string]*domain.Submission, error)
}

// NotificationService is the notification queue as seen by HTTP handlers.
type NotificationService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.PendingNotification, int64, error)
	Summary(ctx context.Context, userID string) (domain.NotificationSummary, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
	MarkDeliveredFor(ctx context.Context, userID, id string) error
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// PlayerStatsService reads per-player aggregates.
type PlayerStatsService interface {
	PlayerStats(ctx context.Context, userID string) (*domain.PlayerStats, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for duels, submissions, notifications
// and player statistics.
type Handlers struct {
	duels   DuelService
	notes   NotificationService
	players PlayerStatsService

	// MaxScreenshotBytes caps uploaded screenshots.
	MaxScreenshotBytes int64
	// IdempotencyTTL is how long a recorded create can be replayed.
	IdempotencyTTL time.Duration

	// Broker feeds the realtime endpoint. Nil disables it.
	Broker *feed.Broker
	// OriginPatterns are the cross-origin hosts allowed to open /realtime.
	OriginPatterns []string
}

// New constructs and returns a Handlers instance bound to the given services.
func New(duels DuelService, notes NotificationService, players PlayerStatsService) *Handlers {
	return &Handlers{
		duels:              duels,
		notes:              notes,
		players:            players,
		MaxScreenshotBytes: 8 << 20,
		IdempotencyTTL:     24 * time.Hour,
	}
}

// currentUser returns the caller's id, or writes 401 and returns false.
func currentUser(c *gin.Context) (string, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
		return "", false
	}
	return uid, true
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), defaultPage),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		maxPageSize,
	)
}

// notModified sets a weak ETag built from a collection's size and latest
// update and reports whether the client's If-None-Match already matches it.
// The 304 is written when it does.
func notModified(c *gin.Context, kind, owner string, count int64, maxTS *time.Time, query string) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d:%s"`, kind, owner, count, ts, query)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
