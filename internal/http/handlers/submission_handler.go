// Screenshot submission handlers.
//
//   - POST /duels/{id}/submissions   (multipart upload, field "screenshot")
//   - GET  /duels/{id}/submissions   (both players' submissions)
//
// The upload is read fully (bounded by MaxScreenshotBytes) before it reaches
// the engine, which stores it and has the oracle read the score.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/http/middleware"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

// ScreenshotField is the multipart form field carrying the image.
const ScreenshotField = "screenshot"

// ListSubmissionsResponse lists a duel's submissions ordered by submit time.
type ListSubmissionsResponse struct {
	Submissions []domain.Submission `json:"submissions"`
}

// SubmitScreenshot godoc
// @ID          submitScreenshot
// @Summary     Upload the final-score screenshot
// @Description Stores the screenshot and verifies it. 422 low_confidence and 503 oracle_unavailable keep the screenshot for a later retry.
// @Tags        Submissions
// @Accept      multipart/form-data
// @Produce     json
// @Param       id          path      string  true  "Duel ID (UUID)"  format(uuid)
// @Param       screenshot  formData  file    true  "PNG or JPEG"
// @Success     201  {object} domain.Submission
// @Failure     409  {object} handlers.ErrorResponse "Window closed"
// @Failure     413  {object} handlers.ErrorResponse
// @Failure     422  {object} handlers.ErrorResponse
// @Failure     503  {object} handlers.ErrorResponse
// @Router      /duels/{id}/submissions [post]
func (h *Handlers) SubmitScreenshot(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, valid := duelID(c)
	if !valid {
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	db := h.duelDB()
	if idemKey != "" && db != nil {
		if rec, err := repo.GetIdempotency(ctx, db, uid, middleware.IdempotencyScope(c), idemKey, time.Now().UTC()); err == nil && rec != nil {
			if subs, err := h.duels.Submissions(ctx, id); err == nil {
				if s := subs[uid]; s != nil && s.ID == rec.ResourceID {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, s)
					return
				}
			}
		}
	}

	fh, err := c.FormFile(ScreenshotField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "screenshot too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"screenshot\" required")
		return
	}
	if h.MaxScreenshotBytes > 0 && fh.Size > h.MaxScreenshotBytes {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "screenshot too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	defer f.Close()
	img, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(img)
	}

	sub, err := h.duels.SubmitScreenshot(ctx, services.SubmitInput{
		DuelID:      id,
		UserID:      uid,
		Image:       img,
		ContentType: contentType,
	})
	if err != nil {
		failService(c, err, ErrCodeCreateFailed)
		return
	}

	if idemKey != "" && db != nil {
		_, _ = repo.CreateIdempotency(ctx, db, uid, middleware.IdempotencyScope(c), idemKey, sub.ID, http.StatusCreated, h.IdempotencyTTL)
	}
	ok(c, http.StatusCreated, sub)
}

// ListSubmissions godoc
// @ID          listSubmissions
// @Summary     List a duel's submissions
// @Tags        Submissions
// @Produce     json
// @Param       id  path  string  true  "Duel ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.ListSubmissionsResponse
// @Router      /duels/{id}/submissions [get]
func (h *Handlers) ListSubmissions(c *gin.Context) {
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
	subs, err := h.duels.Submissions(ctx, id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	out := make([]domain.Submission, 0, len(subs))
	for _, s := range subs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	ok(c, http.StatusOK, ListSubmissionsResponse{Submissions: out})
}
