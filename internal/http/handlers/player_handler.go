package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PlayerStats godoc
// @ID          getPlayerStats
// @Summary     A player's aggregate statistics
// @Description Zero-valued stats are returned for players who never completed a duel.
// @Tags        Players
// @Produce     json
// @Param       id  path  string  true  "Player ID"
// @Success     200  {object} domain.PlayerStats
// @Router      /players/{id}/stats [get]
func (h *Handlers) PlayerStats(c *gin.Context) {
	if _, okUser := currentUser(c); !okUser {
		return
	}
	st, err := h.players.PlayerStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, st)
}
