package handler

import (
	"net/http"
	"strconv"

	"door-monitor/internal/model"
	"door-monitor/internal/session"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	Controller *session.Controller
}

func (h *UserHandler) List(c *gin.Context) {
	if err := h.Controller.RefreshUsers(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": h.Controller.View().Users})
}

func (h *UserHandler) Create(c *gin.Context) {
	var body model.NewUser
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.Controller.CreateUser(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"users": h.Controller.View().Users})
}

func (h *UserHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
		return
	}
	if err := h.Controller.DeleteUser(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": h.Controller.View().Users})
}
