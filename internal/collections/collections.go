// Package collections serves the per-user app and session collections
// through a Redis read-through cache. The cache is never written directly
// by callers; connect and disconnect invalidate it and the next read
// repopulates from Postgres and the catalog.
package collections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/metrics"
)

const defaultTTL = 60 * time.Second

// SessionView is the cacheable projection of a session. Access tokens never
// enter the cache.
type SessionView struct {
	AppSlug      string    `json:"app_slug"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Cache is the read-through collection cache. Concurrent reads of the same
// key are collapsed with singleflight so a cold key hits the origin once.
type Cache struct {
	rdb      *goredis.Client
	catalog  domain.AppCatalog
	sessions domain.SessionRepository
	ttl      time.Duration
	group    singleflight.Group
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func New(rdb *goredis.Client, catalog domain.AppCatalog, sessions domain.SessionRepository, opts ...Option) *Cache {
	c := &Cache{
		rdb:      rdb,
		catalog:  catalog,
		sessions: sessions,
		ttl:      defaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func appsKey(userID uuid.UUID) string     { return "collections:apps:" + userID.String() }
func sessionsKey(userID uuid.UUID) string { return "collections:sessions:" + userID.String() }

// Apps returns the catalog annotated with the user's derived connection
// state.
func (c *Cache) Apps(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error) {
	return readThrough(ctx, c, "apps", appsKey(userID), func() ([]domain.AppListing, error) {
		return c.buildApps(ctx, userID)
	})
}

// Sessions returns the user's active session views.
func (c *Cache) Sessions(ctx context.Context, userID uuid.UUID) ([]SessionView, error) {
	return readThrough(ctx, c, "sessions", sessionsKey(userID), func() ([]SessionView, error) {
		return c.buildSessions(ctx, userID)
	})
}

// Invalidate drops both collections for the user. Connect and disconnect
// change the connected set, so the two caches always move together. Failures
// are logged, never surfaced: the worst case is a stale read until TTL.
func (c *Cache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.rdb.Del(ctx, appsKey(userID), sessionsKey(userID)).Err(); err != nil {
		slog.Warn("Failed to invalidate collection cache", "user_id", userID, "error", err)
		metrics.CollectionInvalidations.WithLabelValues("error").Inc()
		return
	}
	metrics.CollectionInvalidations.WithLabelValues("ok").Inc()
}

// readThrough implements the cache protocol for one key: Redis first, origin
// on miss, best-effort populate. Redis errors degrade to a direct origin
// read.
func readThrough[T any](ctx context.Context, c *Cache, collection, key string, origin func() ([]T, error)) ([]T, error) {
	result, err, _ := c.group.Do(key, func() (any, error) {
		payload, err := c.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			var items []T
			if unmarshalErr := json.Unmarshal([]byte(payload), &items); unmarshalErr == nil {
				metrics.CollectionCacheHits.WithLabelValues(collection, "redis").Inc()
				return items, nil
			}
			// Unreadable payload, treat as a miss.
			slog.Warn("Dropping malformed cache payload", "key", key)
		case !errors.Is(err, goredis.Nil):
			slog.Warn("Collection cache read failed, falling back to origin", "key", key, "error", err)
		}

		items, err := origin()
		if err != nil {
			return nil, err
		}
		metrics.CollectionCacheHits.WithLabelValues(collection, "origin").Inc()

		if encoded, err := json.Marshal(items); err == nil {
			if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
				slog.Warn("Failed to populate collection cache", "key", key, "error", err)
			}
		}
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s collection: %w", collection, err)
	}
	return result.([]T), nil
}

func (c *Cache) buildApps(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error) {
	apps, err := c.catalog.All(ctx)
	if err != nil {
		return nil, err
	}

	sessions, err := c.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	connected := domain.ConnectedSlugs(sessions)

	listings := make([]domain.AppListing, 0, len(apps))
	for _, app := range apps {
		_, ok := connected[app.Slug]
		listings = append(listings, domain.AppListing{App: app, IsConnected: ok})
	}
	return listings, nil
}

func (c *Cache) buildSessions(ctx context.Context, userID uuid.UUID) ([]SessionView, error) {
	sessions, err := c.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			AppSlug:      s.AppSlug,
			IsActive:     s.IsActive,
			CreatedAt:    s.CreatedAt,
			LastAccessed: s.LastAccessed,
			ExpiresAt:    s.ExpiresAt,
		})
	}
	return views, nil
}

// Split partitions listings into connected and available sets for the
// dashboard.
func Split(listings []domain.AppListing) (connected, available []domain.AppListing) {
	for _, l := range listings {
		if l.IsConnected {
			connected = append(connected, l)
		} else {
			available = append(available, l)
		}
	}
	return connected, available
}

// ByCategory groups available apps by their catalog categories for the
// dashboard's category buckets.
func ByCategory(listings []domain.AppListing) map[string][]domain.AppListing {
	out := make(map[string][]domain.AppListing)
	for _, l := range listings {
		categories := l.Categories
		if len(categories) == 0 {
			categories = []string{domain.CategoryOther}
		}
		for _, cat := range categories {
			out[cat] = append(out[cat], l)
		}
	}
	return out
}
