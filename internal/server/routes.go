package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Root redirects to the dashboard
	s.echo.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusFound, "/dashboard")
	})

	// Auth
	s.echo.GET("/auth/login", s.handleLoginPage)
	s.echo.POST("/login", s.handleLogin)
	s.echo.POST("/logout", s.handleLogout, s.requireAuth)
	s.echo.GET("/me", s.handleMe, s.requireAuth)

	// Collections
	s.echo.GET("/apps", s.handleApps, s.requireAuth)
	s.echo.GET("/user/sessions", s.handleUserSessions, s.requireAuth)

	// Connect workflow. The callback carries its own identity in the state
	// token, so it has no auth middleware.
	s.echo.POST("/connect_app", s.handleConnectApp, s.requireAuth, s.connectRateLimiter())
	s.echo.GET("/auth/callback", s.handleAuthCallback)
	s.echo.DELETE("/disconnect_app/:app_slug", s.handleDisconnectApp, s.requireAuth)

	// Dashboard and its live updates
	s.echo.GET("/dashboard", s.handleDashboard, s.requireAuth)
	s.echo.GET("/ws/connections", s.handleConnectionsSocket, s.requireAuth)
}
