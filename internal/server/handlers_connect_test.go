package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/connect"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
)

func postConnect(t *testing.T, srv *Server, userID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/connect_app", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerFor(t, srv, userID))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestConnectAppSuccess(t *testing.T) {
	userID := uuid.New()
	svc := &mockAppService{
		connectFn: func(_ context.Context, gotUser uuid.UUID, appSlug string, _ ...string) (*connect.Attempt, connect.Link, error) {
			require.Equal(t, userID, gotUser)
			require.Equal(t, "github", appSlug)
			return nil, connect.Link{
				ConnectURL:  "https://provider.example.com/authorize?app=github",
				RedirectURL: "http://localhost:8080/auth/callback",
			}, nil
		},
	}
	srv := newTestServer(t, svc)

	rec := postConnect(t, srv, userID, `{"app_slug":"github"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "initiated", body["status"])
	assert.Contains(t, body["connect_link"], "app=github")
	assert.NotEmpty(t, body["redirect_url"])
}

func TestConnectAppRequiresSlug(t *testing.T) {
	srv := newTestServer(t, &mockAppService{})
	rec := postConnect(t, srv, uuid.New(), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectAppUnknownApp(t *testing.T) {
	svc := &mockAppService{
		connectFn: func(_ context.Context, _ uuid.UUID, _ string, _ ...string) (*connect.Attempt, connect.Link, error) {
			return nil, connect.Link{}, domain.ErrAppNotFound
		},
	}
	srv := newTestServer(t, svc)

	rec := postConnect(t, srv, uuid.New(), `{"app_slug":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnectAppAlreadyInFlight(t *testing.T) {
	svc := &mockAppService{
		connectFn: func(_ context.Context, _ uuid.UUID, _ string, _ ...string) (*connect.Attempt, connect.Link, error) {
			return nil, connect.Link{}, connect.ErrAttemptInFlight
		},
	}
	srv := newTestServer(t, svc)

	rec := postConnect(t, srv, uuid.New(), `{"app_slug":"github"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConnectAppBlockedReturnsFallbackLink(t *testing.T) {
	svc := &mockAppService{
		connectFn: func(_ context.Context, _ uuid.UUID, _ string, _ ...string) (*connect.Attempt, connect.Link, error) {
			return nil, connect.Link{}, &connect.LaunchBlockedError{URL: "https://provider.example.com/authorize?app=github"}
		},
	}
	srv := newTestServer(t, svc)

	rec := postConnect(t, srv, uuid.New(), `{"app_slug":"github"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "blocked", body["status"])
	assert.NotEmpty(t, body["connect_link"])
}

func TestAuthCallbackJSON(t *testing.T) {
	userID := uuid.New()
	svc := &mockAppService{
		completeCallbackFn: func(_ context.Context, params connect.CallbackParams) (*connect.Completion, error) {
			require.Equal(t, "auth-code", params.Code)
			require.NotEmpty(t, params.State)
			return &connect.Completion{
				AppSlug:     "github",
				UserID:      userID.String(),
				AccessToken: "provider-token",
				TokenType:   "bearer",
				ExpiresIn:   3600,
			}, nil
		},
	}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code&state=some-state", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "github", body["app_slug"])
	assert.Equal(t, userID.String(), body["user_id"])
	assert.Equal(t, "provider-token", body["access_token"])
}

func TestAuthCallbackHTMLPostsCompletionMessage(t *testing.T) {
	svc := &mockAppService{
		completeCallbackFn: func(_ context.Context, _ connect.CallbackParams) (*connect.Completion, error) {
			return &connect.Completion{AppSlug: "github", UserID: uuid.NewString()}, nil
		},
	}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code&state=some-state", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, connect.MessageTypeOAuthComplete)
	assert.Contains(t, page, "postMessage")
	// The page targets our own origin, never "*".
	assert.Contains(t, page, "http://localhost:8080")
}

func TestAuthCallbackMalformed(t *testing.T) {
	svc := &mockAppService{
		completeCallbackFn: func(_ context.Context, _ connect.CallbackParams) (*connect.Completion, error) {
			return nil, &connect.MalformedCallbackError{Reason: "missing code or state parameter"}
		},
	}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthCallbackProviderError(t *testing.T) {
	svc := &mockAppService{
		completeCallbackFn: func(_ context.Context, _ connect.CallbackParams) (*connect.Completion, error) {
			return nil, &connect.RequestError{Detail: "OAuth error: access_denied"}
		},
	}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?error=access_denied&state=s", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_denied")
}

func TestDisconnectApp(t *testing.T) {
	userID := uuid.New()
	svc := &mockAppService{
		disconnectFn: func(_ context.Context, gotUser uuid.UUID, appSlug string) error {
			require.Equal(t, userID, gotUser)
			require.Equal(t, "github", appSlug)
			return nil
		},
	}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/disconnect_app/github", nil)
	req.Header.Set("Authorization", bearerFor(t, srv, userID))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["message"], "github")
}

func TestDisconnectAppNotConnected(t *testing.T) {
	svc := &mockAppService{
		disconnectFn: func(_ context.Context, _ uuid.UUID, _ string) error {
			return domain.ErrSessionNotFound
		},
	}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/disconnect_app/github", nil)
	req.Header.Set("Authorization", bearerFor(t, srv, uuid.New()))
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
