// Notification handlers.
//
//   - GET  /notifications                     (paginated, ETag)
//   - GET  /notifications/summary             (counters)
//   - POST /notifications/read                (mark read; empty ids = all)
//   - POST /notifications/{id}/delivered      (device acknowledged display)
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// ListNotificationsResponse is a page of live notifications.
type ListNotificationsResponse struct {
	Notifications []domain.PendingNotification `json:"notifications"`
	Pagination    Pagination                   `json:"pagination"`
}

// MarkReadRequest names the notifications to mark read.
type MarkReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkReadResponse reports how many notifications changed.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List the caller's notifications
// @Description Live (unexpired) notifications, highest priority first. Supports weak ETag caching.
// @Tags        Notifications
// @Produce     json
// @Param       page       query  int  false  "Page number (1-based)"  minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"        minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListNotificationsResponse
// @Success     304  "Not Modified"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	page, pageSize := clampPagination(c)

	if count, maxTS, err := h.notes.Stats(ctx, uid); err == nil {
		q := "p=" + strconv.Itoa(page) + "&s=" + strconv.Itoa(pageSize)
		if notModified(c, "notifications", uid, count, maxTS, q) {
			return
		}
	}

	items, total, err := h.notes.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListNotificationsResponse{
		Notifications: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// NotificationSummary godoc
// @ID          notificationSummary
// @Summary     Notification counters
// @Tags        Notifications
// @Produce     json
// @Success     200  {object} domain.NotificationSummary
// @Router      /notifications/summary [get]
func (h *Handlers) NotificationSummary(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	sum, err := h.notes.Summary(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sum)
}

// MarkNotificationsRead godoc
// @ID          markNotificationsRead
// @Summary     Mark notifications read
// @Description Marks the listed notifications read. An empty or missing ids list marks all of them.
// @Tags        Notifications
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.MarkReadRequest  false  "Notification ids"
// @Success     200  {object} handlers.MarkReadResponse
// @Router      /notifications/read [post]
func (h *Handlers) MarkNotificationsRead(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req MarkReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	n, err := h.notes.MarkRead(c.Request.Context(), uid, req.IDs)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Updated: n})
}

// MarkNotificationDelivered godoc
// @ID          markNotificationDelivered
// @Summary     Acknowledge delivery of a notification
// @Tags        Notifications
// @Param       id  path  string  true  "Notification ID"
// @Success     204  "No Content"
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /notifications/{id}/delivered [post]
func (h *Handlers) MarkNotificationDelivered(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id required")
		return
	}
	if err := h.notes.MarkDeliveredFor(c.Request.Context(), uid, id); err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
