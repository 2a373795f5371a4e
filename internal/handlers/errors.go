package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tariel-x/mlmadmin/internal/genealogy"
	"github.com/tariel-x/mlmadmin/internal/members"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors to a status code. Anything unknown is a
// store failure and is logged before replying 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, genealogy.ErrMemberNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
	case errors.Is(err, members.ErrSponsorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, members.ErrPositionTaken), errors.Is(err, members.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, members.ErrInvalidInput), errors.Is(err, members.ErrInvalidPosition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, members.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case genealogy.IsCorruptTree(err):
		slog.Default().Error("corrupt genealogy", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "genealogy is corrupt: " + err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away
		c.Status(499)
	default:
		slog.Default().Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
