package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleWebSocket streams notifications for the caller. Browsers cannot set
// headers on a websocket handshake, so the token comes in the query string.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}
	identity, err := h.tokens.Parse(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	memberID := h.selfMemberID(identity)
	slog.Default().Debug("ws connect request", "member_id", memberID, "ip", c.ClientIP())

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Default().Warn("ws upgrade failed", "member_id", memberID, "error", err)
		return
	}

	h.hub.Serve(conn, memberID)
}
