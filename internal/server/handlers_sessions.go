package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/errors"
)

func (s *Server) handleUserSessions(c echo.Context) error {
	sessions, err := s.app.Sessions(c.Request().Context(), currentUserID(c))
	if err != nil {
		return errors.InternalError("failed to load sessions", err)
	}
	if sessions == nil {
		sessions = []collections.SessionView{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}
