package server

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Session keys
const (
	sessionName      = "pipeflow-session"
	sessionKeyUserID = "user_id"
)

const ctxKeyUserID = "userID"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// renderTemplate renders to a buffer first so a template failure never sends
// partial HTML.
func renderTemplate(c echo.Context, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		slog.Error("Template execution failed", "path", c.Request().URL.Path, "error", err)
		return c.String(http.StatusInternalServerError, "Failed to render page")
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// currentUserID returns the authenticated user set by requireAuth.
func currentUserID(c echo.Context) uuid.UUID {
	userID, _ := c.Get(ctxKeyUserID).(uuid.UUID)
	return userID
}
