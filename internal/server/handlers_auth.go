package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/errors"
)

const jwtLifetime = 24 * time.Hour

// requireAuth authenticates the request: the session cookie first, then an
// Authorization bearer token. Browser navigation falls back to the login
// page; API callers get a structured 401.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if userID, ok := s.userFromCookie(c); ok {
			c.Set(ctxKeyUserID, userID)
			return next(c)
		}
		if userID, ok := s.userFromBearer(c); ok {
			c.Set(ctxKeyUserID, userID)
			return next(c)
		}

		if acceptsHTML(c) {
			return c.Redirect(http.StatusFound, "/auth/login")
		}
		return errors.UnauthorizedError("authentication required")
	}
}

func (s *Server) userFromCookie(c echo.Context) (uuid.UUID, bool) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return uuid.Nil, false
	}
	raw, ok := session.Values[sessionKeyUserID].(string)
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func (s *Server) userFromBearer(c echo.Context) (uuid.UUID, bool) {
	header := c.Request().Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return uuid.Nil, false
	}

	userID, err := s.parseJWT(token)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

func (s *Server) issueJWT(userID uuid.UUID, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

func (s *Server) parseJWT(raw string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, err
	}

	claims := token.Claims.(*jwt.RegisteredClaims)
	return uuid.Parse(claims.Subject)
}

func acceptsHTML(c echo.Context) bool {
	return strings.Contains(c.Request().Header.Get("Accept"), "text/html")
}

func (s *Server) handleLoginPage(c echo.Context) error {
	return renderTemplate(c, s.loginTemplate, nil)
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("malformed login request")
	}
	if req.Username == "" || req.Password == "" {
		return errors.ValidationError("username and password are required")
	}

	user, err := s.app.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return errors.UnauthorizedError("invalid username or password")
	}

	token, err := s.issueJWT(user.ID, time.Now())
	if err != nil {
		return errors.InternalError("failed to issue token", err)
	}

	session, _ := s.sessionStore.Get(c.Request(), sessionName)
	session.Values[sessionKeyUserID] = user.ID.String()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return errors.InternalError("failed to save session", err)
	}

	return c.JSON(http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(jwtLifetime.Seconds()),
		UserID:      user.ID.String(),
	})
}

func (s *Server) handleLogout(c echo.Context) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err == nil {
		session.Options.MaxAge = -1
		_ = session.Save(c.Request(), c.Response().Writer)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleMe(c echo.Context) error {
	user, err := s.app.GetUserByID(c.Request().Context(), currentUserID(c))
	if err != nil {
		return errors.UnauthorizedError("unknown user")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"user_id":  user.ID.String(),
		"username": user.Username,
	})
}
