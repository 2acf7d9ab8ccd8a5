package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/errors"
)

func (s *Server) handleApps(c echo.Context) error {
	listings, err := s.app.Apps(c.Request().Context(), currentUserID(c))
	if err != nil {
		return errors.InternalError("failed to load apps", err)
	}

	connected, available := collections.Split(listings)
	return c.JSON(http.StatusOK, map[string]any{
		"apps":      listings,
		"connected": connected,
		"available": available,
	})
}

func (s *Server) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	userID := currentUserID(c)

	user, err := s.app.GetUserByID(ctx, userID)
	if err != nil {
		return c.Redirect(http.StatusFound, "/auth/login")
	}

	listings, err := s.app.Apps(ctx, userID)
	if err != nil {
		return errors.InternalError("failed to load apps", err)
	}
	connected, available := collections.Split(listings)

	return renderTemplate(c, s.dashboardTemplate, map[string]any{
		"Username":   user.Username,
		"Connected":  connected,
		"Categories": collections.ByCategory(available),
	})
}
