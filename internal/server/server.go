// Package server is the HTTP layer: echo routes, authentication, the
// connect endpoints, and the dashboard websocket.
package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/app"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/config"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/connect"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/errors"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/notify"
	"github.com/Vishnusai4/pipeflow-mcp-server/web"
)

const sessionMaxAgeDays = 7

// AppService is the application-layer surface the HTTP handlers need.
type AppService interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	Apps(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error)
	Sessions(ctx context.Context, userID uuid.UUID) ([]collections.SessionView, error)
	Connect(ctx context.Context, userID uuid.UUID, appSlug string, scopes ...string) (*connect.Attempt, connect.Link, error)
	CompleteCallback(ctx context.Context, params connect.CallbackParams) (*connect.Completion, error)
	Disconnect(ctx context.Context, userID uuid.UUID, appSlug string) error
}

var _ AppService = (*app.Service)(nil)

// healthChecker pings a backing store.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	echo         *echo.Echo
	config       *config.Config
	app          AppService
	hub          *notify.Hub
	sessionStore *sessions.CookieStore

	db    healthChecker
	redis healthChecker

	loginTemplate     *template.Template
	dashboardTemplate *template.Template
	callbackTemplate  *template.Template
}

func NewServer(cfg *config.Config, svc AppService, hub *notify.Hub, db, redis healthChecker) (*Server, error) {
	loginTmpl, err := template.ParseFS(web.Templates, "templates/login.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse login template: %w", err)
	}
	dashboardTmpl, err := template.ParseFS(web.Templates, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}
	callbackTmpl, err := template.ParseFS(web.Templates, "templates/callback.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse callback template: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(errors.Middleware())

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * sessionMaxAgeDays,
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}

	srv := &Server{
		echo:              e,
		config:            cfg,
		app:               svc,
		hub:               hub,
		sessionStore:      sessionStore,
		db:                db,
		redis:             redis,
		loginTemplate:     loginTmpl,
		dashboardTemplate: dashboardTmpl,
		callbackTemplate:  callbackTmpl,
	}
	srv.registerRoutes()
	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
