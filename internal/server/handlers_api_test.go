package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
)

func getAuthed(t *testing.T, srv *Server, userID uuid.UUID, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearerFor(t, srv, userID))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHandleApps(t *testing.T) {
	svc := &mockAppService{
		appsFn: func(_ context.Context, _ uuid.UUID) ([]domain.AppListing, error) {
			return []domain.AppListing{
				{App: domain.App{Slug: "github", Name: "GitHub"}, IsConnected: true},
				{App: domain.App{Slug: "slack", Name: "Slack"}},
			}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := getAuthed(t, srv, uuid.New(), "/apps")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Apps      []domain.AppListing `json:"apps"`
		Connected []domain.AppListing `json:"connected"`
		Available []domain.AppListing `json:"available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Apps, 2)
	require.Len(t, body.Connected, 1)
	assert.Equal(t, "github", body.Connected[0].Slug)
	require.Len(t, body.Available, 1)
	assert.Equal(t, "slack", body.Available[0].Slug)
}

func TestHandleUserSessions(t *testing.T) {
	now := time.Now().UTC()
	svc := &mockAppService{
		sessionsFn: func(_ context.Context, _ uuid.UUID) ([]collections.SessionView, error) {
			return []collections.SessionView{
				{AppSlug: "github", IsActive: true, CreatedAt: now},
			}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := getAuthed(t, srv, uuid.New(), "/user/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []collections.SessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "github", body.Sessions[0].AppSlug)
	assert.True(t, body.Sessions[0].IsActive)
}

func TestHandleUserSessionsEmpty(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	rec := getAuthed(t, srv, uuid.New(), "/user/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	// Empty list, not null.
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestHandleDashboard(t *testing.T) {
	svc := &mockAppService{
		appsFn: func(_ context.Context, _ uuid.UUID) ([]domain.AppListing, error) {
			return []domain.AppListing{
				{App: domain.App{Slug: "github", Name: "GitHub", Categories: []string{"Development"}}},
			}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := getAuthed(t, srv, uuid.New(), "/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GitHub")
	assert.Contains(t, rec.Body.String(), "Development")
	assert.Contains(t, rec.Body.String(), "testuser")
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	for _, path := range []string{"/health/live", "/health/ready", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRootRedirectsToDashboard(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}
