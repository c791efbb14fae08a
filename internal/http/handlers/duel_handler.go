// Duel HTTP handlers.
//
// This file exposes REST endpoints for duel resources:
//   - POST /duels                 (propose, Idempotency-Key aware)
//   - GET  /duels                 (list, paginated, status filter, ETag support)
//   - GET  /duels/{id}
//   - POST /duels/{id}/respond    (accept or decline)
//   - POST /duels/{id}/start
//   - POST /duels/{id}/end
//   - POST /duels/{id}/resolve
//   - POST /duels/{id}/dispute
//   - POST /duels/{id}/cancel
//
// Handlers are transport-thin: they validate input, call the lifecycle
// engine, and translate results into HTTP responses. Who may perform which
// transition is decided by the engine, not here.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/http/middleware"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

//
// DTOs
//

// ProposeDuelRequest is the JSON payload for challenging another player.
type ProposeDuelRequest struct {
	OpponentID string `json:"opponent_id" binding:"required" example:"user-456"`
	GameType   string `json:"game_type"   binding:"required" example:"Chess"`
	GameMode   string `json:"game_mode"   binding:"required" example:"Blitz"`
	// Message is an optional note shown with the challenge (max 280 characters).
	Message string `json:"message" example:"Rematch?"`
}

// RespondRequest accepts or declines a proposal.
type RespondRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// DisputeRequest contests a duel.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=1000" example:"Opponent's screenshot is from another match"`
}

// ListDuelsResponse wraps a page of duels and pagination information.
type ListDuelsResponse struct {
	Duels      []domain.Duel `json:"duels"`
	Pagination Pagination    `json:"pagination"`
}

// OutcomeResponse is the result of resolving a duel.
type OutcomeResponse struct {
	Duel  *domain.Duel         `json:"duel"`
	Stats *domain.StatsOutcome `json:"stats,omitempty"`
}

//
// Helpers
//

// duelDB returns the engine's database when the service is the concrete
// engine; idempotency replays and ETags are skipped otherwise.
func (h *Handlers) duelDB() *gorm.DB {
	if e, ok := h.duels.(*services.Engine); ok {
		return e.DB
	}
	return nil
}

// duelID validates the :id path parameter.
func duelID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "duel id must be a UUID")
		return "", false
	}
	return id, true
}

// parseStatuses reads the comma separated ?status= filter.
func parseStatuses(raw string) ([]domain.DuelStatus, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	var out []domain.DuelStatus
	for _, p := range strings.Split(raw, ",") {
		s := domain.DuelStatus(strings.TrimSpace(p))
		if !s.Valid() {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

//
// Handlers
//

// ProposeDuel godoc
// @ID          proposeDuel
// @Summary     Challenge another player
// @Tags        Duels
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  true   "Caller id"
// @Param       Idempotency-Key  header  string  false  "Replay-safe retry key"
// @Param       body             body    handlers.ProposeDuelRequest  true  "Challenge"
// @Success     201  {object}  domain.Duel
// @Success     200  {object}  domain.Duel  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /duels [post]
func (h *Handlers) ProposeDuel(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}

	var req ProposeDuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "opponent_id, game_type and game_mode are required")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	db := h.duelDB()
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, uid, middleware.IdempotencyScope(c), idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err := h.duels.Get(ctx, rec.ResourceID); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, prev)
				return
			}
		}
	}

	d, err := h.duels.Propose(ctx, services.ProposeInput{
		ChallengerID: uid,
		OpponentID:   req.OpponentID,
		GameType:     req.GameType,
		GameMode:     req.GameMode,
		Message:      req.Message,
	})
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && db != nil {
		_, _ = repo.CreateIdempotency(ctx, db, uid, middleware.IdempotencyScope(c), idemKey, d.ID, http.StatusCreated, h.IdempotencyTTL)
	}
	ok(c, http.StatusCreated, d)
}

// ListDuels godoc
// @ID          listDuels
// @Summary     List the caller's duels (paginated)
// @Description Newest first. Supports a comma separated status filter and weak ETags.
// @Tags        Duels
// @Produce     json
// @Param       status     query  string  false  "e.g. proposed,in_progress"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListDuelsResponse
// @Success     304  {string} string "Not Modified"
// @Router      /duels [get]
func (h *Handlers) ListDuels(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	statuses, valid := parseStatuses(c.Query("status"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status in filter")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.duelDB(); db != nil {
		if count, maxTS, err := repo.DuelsStats(ctx, db, uid); err == nil {
			if notModified(c, "duels", uid, count, maxTS, c.Request.URL.RawQuery) {
				return
			}
		}
	}

	items, total, err := h.duels.ListForUser(ctx, uid, statuses, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDuelsResponse{Duels: items, Pagination: newPagination(page, pageSize, total)})
}

// GetDuel godoc
// @ID          getDuel
// @Summary     Fetch one duel
// @Tags        Duels
// @Produce     json
// @Param       id  path  string  true  "Duel ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Duel
// @Failure     403  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /duels/{id} [get]
func (h *Handlers) GetDuel(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := duelID(c)
	if !valid {
		return
	}
	d, err := h.duels.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	if !d.IsParticipant(uid) {
		failService(c, services.ErrNotParticipant, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// RespondDuel godoc
// @ID          respondDuel
// @Summary     Accept or decline a challenge
// @Tags        Duels
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Duel ID (UUID)"  format(uuid)
// @Param       body  body  handlers.RespondRequest  true  "Decision"
// @Success     200  {object} domain.Duel
// @Failure     409  {object} handlers.ErrorResponse "Not proposed any more, or expired"
// @Router      /duels/{id}/respond [post]
func (h *Handlers) RespondDuel(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := duelID(c)
	if !valid {
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "accept (boolean) is required")
		return
	}
	d, err := h.duels.Respond(c.Request.Context(), id, uid, *req.Accept)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// StartMatch godoc
// @ID          startMatch
// @Summary     Start an accepted duel
// @Tags        Duels
// @Param       id  path  string  true  "Duel ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Duel
// @Router      /duels/{id}/start [post]
func (h *Handlers) StartMatch(c *gin.Context) {
	h.transition(c, h.duels.StartMatch)
}

// EndMatch godoc
// @ID          endMatch
// @Summary     End a running match and open the verification window
// @Tags        Duels
// @Param       id  path  string  true  "Duel ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Duel
// @Router      /duels/{id}/end [post]
func (h *Handlers) EndMatch(c *gin.Context) {
	h.transition(c, h.duels.EndMatch)
}

// CancelDuel godoc
// @ID          cancelDuel
// @Summary     Cancel a duel that has not finished
// @Tags        Duels
// @Param       id  path  string  true  "Duel ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Duel
// @Router      /duels/{id}/cancel [post]
func (h *Handlers) CancelDuel(c *gin.Context) {
	h.transition(c, h.duels.Cancel)
}

func (h *Handlers) transition(c *gin.Context, op func(ctx context.Context, duelID, byUserID string) (*domain.Duel, error)) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := duelID(c)
	if !valid {
		return
	}
	d, err := op(c.Request.Context(), id, uid)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// DisputeDuel godoc
// @ID          disputeDuel
// @Summary     Contest a duel's result
// @Tags        Duels
// @Accept      json
// @Param       id    path  string  true  "Duel ID (UUID)"  format(uuid)
// @Param       body  body  handlers.DisputeRequest  true  "Reason"
// @Success     200  {object} domain.Duel
// @Router      /duels/{id}/dispute [post]
func (h *Handlers) DisputeDuel(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := duelID(c)
	if !valid {
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reason required (1-1000 chars)")
		return
	}
	d, err := h.duels.RaiseDispute(c.Request.Context(), id, uid, req.Reason)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// ResolveDuel godoc
// @ID          resolveDuel
// @Summary     Resolve an ended match
// @Description Resolves once both players verified or the window closed; 409 not_ready before that.
// @Tags        Duels
// @Param       id  path  string  true  "Duel ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.OutcomeResponse
// @Failure     409  {object} handlers.ErrorResponse
// @Router      /duels/{id}/resolve [post]
func (h *Handlers) ResolveDuel(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := duelID(c)
	if !valid {
		return
	}
	d, err := h.duels.Get(ctx, id)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	if !d.IsParticipant(uid) {
		failService(c, services.ErrNotParticipant, ErrCodeInternal)
		return
	}
	out, err := h.duels.Resolve(ctx, id)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, OutcomeResponse{Duel: out.Duel, Stats: out.Stats})
}
