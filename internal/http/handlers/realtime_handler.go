// Realtime handler.
//
//   - GET /realtime   (WebSocket upgrade; one text frame per duel change)
//
// Frames use the INSERT/UPDATE envelope of the realtime package. The server
// only writes; client frames other than close are ignored. A subscriber that
// falls behind is closed with StatusTryAgainLater and must reconnect and
// reconcile.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/feed"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/realtime"
)

// RealtimeWriteTimeout bounds a single frame write.
const RealtimeWriteTimeout = 10 * time.Second

// Realtime godoc
// @ID          realtime
// @Summary     Subscribe to duel changes over WebSocket
// @Tags        Realtime
// @Success     101  "Switching Protocols"
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     503  {object} handlers.ErrorResponse
// @Router      /realtime [get]
func (h *Handlers) Realtime(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	if h.Broker == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "realtime disabled")
		return
	}

	// The server's WriteTimeout would cut the stream.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		// Accept already wrote the response.
		log.Debug().Err(err).Str("component", "realtime").Msg("upgrade failed")
		return
	}
	defer conn.CloseNow()

	sub := h.Broker.Subscribe(uid)
	defer sub.Close()

	// Reads are only needed to notice the client going away.
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case change, open := <-sub.C():
			if !open {
				if errors.Is(sub.Err(), feed.ErrOverflow) {
					conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
				} else {
					conn.Close(websocket.StatusGoingAway, "")
				}
				return
			}
			b, err := realtime.Encode(change)
			if err != nil {
				log.Warn().Err(err).Str("component", "realtime").Msg("encode change")
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, RealtimeWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
