package server

import (
	"time"

	"door-monitor/internal/handler"
	"door-monitor/internal/hub"
	"door-monitor/internal/logger"
	"door-monitor/internal/middleware"
	"door-monitor/internal/model"
	"door-monitor/internal/session"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Controller *session.Controller
	// LoginLimiter throttles login and demo-login attempts; nil disables it.
	LoginLimiter *middleware.LoginLimiter
}

// NewRouter builds the facade. The returned release func detaches the
// router's view push from the controller.
func NewRouter(deps Deps) (*gin.Engine, func()) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	ctrl := deps.Controller
	viewHub := hub.New()
	publish := func(vm model.ViewModel) {
		msg, err := handler.ViewMessage(vm)
		if err != nil {
			logger.Errorf("encode view: %v", err)
			return
		}
		viewHub.Broadcast(msg)
	}
	release := ctrl.Subscribe(publish)
	publish(ctrl.View())

	sessionHandler := &handler.SessionHandler{Controller: ctrl}
	login := r.Group("/api/session")
	if deps.LoginLimiter != nil {
		login.Use(middleware.LoginThrottle(deps.LoginLimiter))
	}
	login.POST("/login", sessionHandler.Login)
	login.POST("/demo", sessionHandler.Demo)
	r.POST("/api/session/logout", sessionHandler.Logout)

	dashboardHandler := &handler.DashboardHandler{Controller: ctrl}
	r.GET("/api/view", dashboardHandler.View)

	protected := r.Group("/api")
	protected.Use(middleware.RequireSession(ctrl))
	protected.POST("/session/role/refresh", sessionHandler.RefreshRole)
	protected.PUT("/tab", dashboardHandler.SetTab)
	protected.POST("/history/refresh", dashboardHandler.RefreshHistory)

	userHandler := &handler.UserHandler{Controller: ctrl}
	admin := protected.Group("/users")
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.GET("", userHandler.List)
	admin.POST("", userHandler.Create)
	admin.DELETE("/:id", userHandler.Delete)

	wsHandler := &handler.WebSocketHandler{Hub: viewHub}
	r.GET("/ws", wsHandler.Serve)

	return r, release
}

// DefaultLoginLimiter locks a client and username out for a minute after
// limit failed logins.
func DefaultLoginLimiter(limit int) *middleware.LoginLimiter {
	return middleware.NewLoginLimiter(limit, time.Minute)
}
