package server

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/connect"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/errors"
)

const (
	connectRatePerSecond = 1
	connectRateBurst     = 5
	rateLimiterExpiry    = 5 * time.Minute
)

// connectRateLimiter throttles connection starts per user so a stuck
// dashboard cannot hammer the provider.
func (s *Server) connectRateLimiter() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(connectRatePerSecond),
			Burst:     connectRateBurst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if userID := currentUserID(c); userID != uuid.Nil {
				return userID.String(), nil
			}
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return errors.RateLimitedError("too many connection attempts")
		},
	})
}

type connectRequest struct {
	AppSlug string   `json:"app_slug" form:"app_slug"`
	Scopes  []string `json:"scopes"`
}

func (s *Server) handleConnectApp(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("malformed connect request")
	}
	if req.AppSlug == "" {
		return errors.ValidationError("app_slug is required")
	}

	_, link, err := s.app.Connect(c.Request().Context(), currentUserID(c), req.AppSlug, req.Scopes...)
	if err != nil {
		var blocked *connect.LaunchBlockedError
		var reqErr *connect.RequestError
		switch {
		case stderrors.Is(err, domain.ErrInvalidSlug):
			return errors.ValidationError("invalid app slug")
		case stderrors.Is(err, domain.ErrAppNotFound):
			return errors.NotFoundError("unknown app")
		case stderrors.Is(err, connect.ErrAttemptInFlight):
			return errors.ConflictError("a connection attempt for this app is already in progress")
		case stderrors.As(err, &blocked):
			// Recoverable: hand back the link so the user can follow it
			// directly.
			return c.JSON(http.StatusOK, map[string]string{
				"status":       "blocked",
				"connect_link": blocked.URL,
			})
		case stderrors.As(err, &reqErr):
			return errors.ExternalError(reqErr.Detail, reqErr.Unwrap())
		default:
			return errors.InternalError("failed to start connection", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":       "initiated",
		"connect_link": link.ConnectURL,
		"redirect_url": link.RedirectURL,
	})
}

// callbackPage is what the authorization window renders after the provider
// redirects back: it posts the completion message to the opener dashboard
// and closes itself.
type callbackPage struct {
	Type    string
	Success bool
	AppSlug string
	Error   string
	Origin  string
}

func (s *Server) handleAuthCallback(c echo.Context) error {
	params := connect.ParamsFromQuery(c.QueryParams())
	completion, err := s.app.CompleteCallback(c.Request().Context(), params)

	if acceptsHTML(c) {
		page := callbackPage{
			Type:   connect.MessageTypeOAuthComplete,
			Origin: s.config.BaseURL,
		}
		if err != nil {
			page.Error = err.Error()
		} else {
			page.Success = true
			page.AppSlug = completion.AppSlug
		}
		return renderTemplate(c, s.callbackTemplate, page)
	}

	if err != nil {
		var malformed *connect.MalformedCallbackError
		var reqErr *connect.RequestError
		switch {
		case stderrors.As(err, &malformed):
			return errors.ValidationError(malformed.Reason)
		case stderrors.As(err, &reqErr):
			return errors.ExternalError(reqErr.Detail, reqErr.Unwrap())
		default:
			return errors.InternalError("failed to complete connection", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":       "success",
		"app_slug":     completion.AppSlug,
		"user_id":      completion.UserID,
		"access_token": completion.AccessToken,
		"token_type":   completion.TokenType,
		"expires_in":   completion.ExpiresIn,
	})
}

func (s *Server) handleDisconnectApp(c echo.Context) error {
	appSlug := c.Param("app_slug")

	err := s.app.Disconnect(c.Request().Context(), currentUserID(c), appSlug)
	switch {
	case stderrors.Is(err, domain.ErrInvalidSlug):
		return errors.ValidationError("invalid app slug")
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return errors.NotFoundError("no active connection for this app")
	case err != nil:
		return errors.InternalError("failed to disconnect", err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Disconnected from " + domain.NormalizeSlug(appSlug),
	})
}

func (s *Server) handleConnectionsSocket(c echo.Context) error {
	userID := currentUserID(c)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	if err := s.hub.Register(userID, conn); err != nil {
		_ = conn.Close()
		return nil
	}

	// Read loop only detects disconnects; the dashboard never sends.
	go func() {
		defer s.hub.Unregister(userID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}
