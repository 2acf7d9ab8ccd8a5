package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/config"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/connect"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/notify"
)

// --- Mock application service ---

type mockAppService struct {
	getUserByIDFn      func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	authenticateFn     func(ctx context.Context, username, password string) (*domain.User, error)
	appsFn             func(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error)
	sessionsFn         func(ctx context.Context, userID uuid.UUID) ([]collections.SessionView, error)
	connectFn          func(ctx context.Context, userID uuid.UUID, appSlug string, scopes ...string) (*connect.Attempt, connect.Link, error)
	completeCallbackFn func(ctx context.Context, params connect.CallbackParams) (*connect.Completion, error)
	disconnectFn       func(ctx context.Context, userID uuid.UUID, appSlug string) error
}

func (m *mockAppService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.getUserByIDFn != nil {
		return m.getUserByIDFn(ctx, userID)
	}
	return &domain.User{ID: userID, Username: "testuser"}, nil
}

func (m *mockAppService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Apps(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error) {
	if m.appsFn != nil {
		return m.appsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAppService) Sessions(ctx context.Context, userID uuid.UUID) ([]collections.SessionView, error) {
	if m.sessionsFn != nil {
		return m.sessionsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAppService) Connect(ctx context.Context, userID uuid.UUID, appSlug string, scopes ...string) (*connect.Attempt, connect.Link, error) {
	if m.connectFn != nil {
		return m.connectFn(ctx, userID, appSlug, scopes...)
	}
	return nil, connect.Link{}, errors.New("not implemented")
}

func (m *mockAppService) CompleteCallback(ctx context.Context, params connect.CallbackParams) (*connect.Completion, error) {
	if m.completeCallbackFn != nil {
		return m.completeCallbackFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Disconnect(ctx context.Context, userID uuid.UUID, appSlug string) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, userID, appSlug)
	}
	return nil
}

// --- Test server setup ---

func newTestServer(t *testing.T, svc AppService) *Server {
	t.Helper()

	cfg := &config.Config{
		AppEnv:        "test",
		Port:          "0",
		BaseURL:       "http://localhost:8080",
		SessionSecret: "test-session-secret",
		JWTSecret:     "test-jwt-secret",
	}

	hub := notify.NewHub()
	t.Cleanup(hub.Stop)

	srv, err := NewServer(cfg, svc, hub, nil, nil)
	require.NoError(t, err)
	return srv
}

// bearerFor issues a valid token for the given user.
func bearerFor(t *testing.T, srv *Server, userID uuid.UUID) string {
	t.Helper()
	token, err := srv.issueJWT(userID, time.Now())
	require.NoError(t, err)
	return "Bearer " + token
}
