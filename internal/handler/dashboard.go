package handler

import (
	"net/http"

	"door-monitor/internal/model"
	"door-monitor/internal/session"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	Controller *session.Controller
}

type tabBody struct {
	Tab model.Tab `json:"tab" binding:"required"`
}

func (h *DashboardHandler) View(c *gin.Context) {
	c.JSON(http.StatusOK, h.Controller.View())
}

// SetTab answers with the tab actually shown, which is dashboard when the
// requested one is not permitted for the current role.
func (h *DashboardHandler) SetTab(c *gin.Context) {
	var body tabBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeTab": h.Controller.SetActiveTab(body.Tab)})
}

func (h *DashboardHandler) RefreshHistory(c *gin.Context) {
	if err := h.Controller.RefreshHistory(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}
