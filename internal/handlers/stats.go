package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pairwave/relay/internal/presence"
	"github.com/pairwave/relay/internal/registry"
)

// ConnectionsResponse lists the live connections for operators.
type ConnectionsResponse struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
	// Mirrored is the redis presence count, -1 when the mirror is disabled.
	// A divergence from Count means the mirror is lagging, nothing more.
	Mirrored int64 `json:"mirrored"`
}

// ListConnections reports live connection ids (requires operator token).
func ListConnections(reg *registry.Registry, mirror *presence.Mirror) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := reg.IDs()
		c.JSON(http.StatusOK, ConnectionsResponse{
			Count:    len(ids),
			IDs:      ids,
			Mirrored: mirror.Count(c.Request.Context()),
		})
	}
}
