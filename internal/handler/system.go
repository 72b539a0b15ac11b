package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports process liveness plus hub occupancy.
func (h *Handlers) HealthCheck(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.hub != nil {
		body["ws_connections"] = h.hub.GetConnectionCount()
	}
	c.JSON(http.StatusOK, body)
}
