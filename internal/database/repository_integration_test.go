package database

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

var testDB *DB

func TestMain(m *testing.M) {
	flag.Parse()

	// Unit tests only in short mode, no container.
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testDB, err = Connect(ctx, connStr, testEncryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	if err := testDB.RunMigrations(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func createTestUser(t *testing.T, username string) *domain.User {
	t.Helper()

	user, err := NewUserRepo(testDB).Upsert(context.Background(), username, "bcrypt-hash")
	require.NoError(t, err)
	return user
}

func TestUserRepoUpsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := NewUserRepo(testDB)

	created := createTestUser(t, "alice")

	byName, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
	assert.Equal(t, "bcrypt-hash", byName.PasswordHash)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	// Upsert again rotates the hash but keeps the identity.
	updated, err := repo.Upsert(ctx, "alice", "new-hash")
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "new-hash", updated.PasswordHash)

	_, err = repo.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSessionRepoLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := NewSessionRepo(testDB)
	user := createTestUser(t, "bob")

	s := &domain.Session{
		UserID:      user.ID,
		AppSlug:     "github",
		AccessToken: "gh-token",
		TokenType:   "bearer",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, s))
	assert.True(t, s.IsActive)

	has, err := repo.HasActive(ctx, user.ID, "github")
	require.NoError(t, err)
	assert.True(t, has)

	sessions, err := repo.ListActiveByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	// Token comes back decrypted.
	assert.Equal(t, "gh-token", sessions[0].AccessToken)

	// Reconnecting replaces the active session instead of stacking a second one.
	replacement := &domain.Session{
		UserID:      user.ID,
		AppSlug:     "github",
		AccessToken: "gh-token-2",
		TokenType:   "bearer",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, replacement))

	sessions, err = repo.ListActiveByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "gh-token-2", sessions[0].AccessToken)

	require.NoError(t, repo.Deactivate(ctx, user.ID, "github"))

	has, err = repo.HasActive(ctx, user.ID, "github")
	require.NoError(t, err)
	assert.False(t, has)

	assert.ErrorIs(t, repo.Deactivate(ctx, user.ID, "github"), domain.ErrSessionNotFound)
}

func TestSessionRepoStoredTokenIsEncrypted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := NewSessionRepo(testDB)
	user := createTestUser(t, "carol")

	s := &domain.Session{
		UserID:      user.ID,
		AppSlug:     "slack",
		AccessToken: "slack-token",
		TokenType:   "bearer",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, s))

	var stored string
	err := testDB.Pool.QueryRow(ctx, `SELECT access_token FROM sessions WHERE id = $1`, s.ID).Scan(&stored)
	require.NoError(t, err)
	assert.NotEqual(t, "slack-token", stored)
}

func TestSessionRepoDeleteExpired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := NewSessionRepo(testDB)
	user := createTestUser(t, "dave")

	expired := &domain.Session{
		UserID:      user.ID,
		AppSlug:     "notion",
		AccessToken: "stale",
		TokenType:   "bearer",
		ExpiresAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, repo.Create(ctx, expired))

	// Expired sessions never show up as active.
	sessions, err := repo.ListActiveByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))
}
