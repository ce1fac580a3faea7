package handler

import (
	"net/http"

	"door-monitor/internal/model"
	"door-monitor/internal/session"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	Controller *session.Controller
}

type loginBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type demoBody struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role" binding:"required"`
}

func (h *SessionHandler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.Controller.Login(c.Request.Context(), body.Username, body.Password); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.View())
}

func (h *SessionHandler) Demo(c *gin.Context) {
	var body demoBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.Username == "" {
		body.Username = "demo"
	}
	if err := h.Controller.LoginDemo(c.Request.Context(), body.Username, body.Role); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.View())
}

func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.Controller.Logout(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.View())
}

func (h *SessionHandler) RefreshRole(c *gin.Context) {
	if err := h.Controller.RefreshRole(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Controller.View())
}
