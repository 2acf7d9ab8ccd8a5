// Package app is the application layer. It is the only component that
// references multiple domain components and orchestrates all use cases:
// authentication, the connect workflow, collections, and cleanup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/connect"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/logging"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/provider"
)

const (
	cleanupInterval = 30 * time.Second
	// defaultSessionLifetime applies when the provider reports no expiry.
	defaultSessionLifetime = 24 * time.Hour
)

// ErrInvalidCredentials is returned when login fails. It deliberately does
// not distinguish unknown users from wrong passwords.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ProviderClient is the upstream OAuth provider surface the service needs.
type ProviderClient interface {
	ConnectLink(appSlug, externalUserID, state string, scopes []string) (string, error)
	ExchangeCode(ctx context.Context, code string) (*provider.TokenResult, error)
}

// CollectionReader serves the cached per-user collections.
type CollectionReader interface {
	Apps(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error)
	Sessions(ctx context.Context, userID uuid.UUID) ([]collections.SessionView, error)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// Notifier pushes events to a user's open dashboards.
type Notifier interface {
	Broadcast(userID uuid.UUID, v any)
}

// Deps are the collaborators of the service.
type Deps struct {
	Users       domain.UserRepository
	Sessions    domain.SessionRepository
	Catalog     domain.AppCatalog
	Collections CollectionReader
	Provider    ProviderClient
	Notifier    Notifier
	// Origin is our own origin; completion messages from anywhere else are
	// dropped.
	Origin string
	// RedirectURL is where the provider sends the user after authorization.
	RedirectURL string
	Clock       clockwork.Clock
}

// Service orchestrates the connect workflow.
type Service struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	catalog  domain.AppCatalog
	cache    CollectionReader
	provider ProviderClient
	notifier Notifier
	origin   string

	initiator  *connect.Initiator
	registry   *connect.Registry
	reconciler *connect.Reconciler

	clock clockwork.Clock

	baseCtx  context.Context
	stopBase context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ connect.CompletionSink = (*Service)(nil)
var _ connect.Exchanger = (*Service)(nil)

func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	baseCtx, stopBase := context.WithCancel(context.Background())

	s := &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		catalog:  deps.Catalog,
		cache:    deps.Collections,
		provider: deps.Provider,
		notifier: deps.Notifier,
		origin:   deps.Origin,
		clock:    deps.Clock,
		baseCtx:  baseCtx,
		stopBase: stopBase,
		stopCh:   make(chan struct{}),
	}

	s.registry = connect.NewRegistry(connect.WithRegistryClock(deps.Clock))
	s.initiator = connect.NewInitiator(&providerLinks{client: deps.Provider, redirectURL: deps.RedirectURL}, s.registry)
	s.reconciler = connect.NewReconciler(deps.Origin, s, connect.WithClock(deps.Clock))

	s.startCleanupTimer()
	return s
}

// providerLinks adapts the provider client to the initiator's link interface.
type providerLinks struct {
	client      ProviderClient
	redirectURL string
}

func (p *providerLinks) ConnectLink(_ context.Context, req connect.LinkRequest) (connect.Link, error) {
	u, err := p.client.ConnectLink(req.AppSlug, req.UserID.String(), req.StateToken, req.Scopes)
	if err != nil {
		return connect.Link{}, err
	}
	return connect.Link{ConnectURL: u, RedirectURL: p.redirectURL}, nil
}

// --- Users ---

func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// Authenticate verifies a username/password pair against the stored bcrypt
// hash.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureBootstrapUser creates or refreshes the configured bootstrap account
// so a fresh deployment has a way in.
func (s *Service) EnsureBootstrapUser(ctx context.Context, username, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bootstrap password: %w", err)
	}
	return s.users.Upsert(ctx, username, string(hash))
}

// --- Collections ---

func (s *Service) Apps(ctx context.Context, userID uuid.UUID) ([]domain.AppListing, error) {
	return s.cache.Apps(ctx, userID)
}

func (s *Service) Sessions(ctx context.Context, userID uuid.UUID) ([]collections.SessionView, error) {
	return s.cache.Sessions(ctx, userID)
}

// --- Connect workflow ---

// Connect starts a connection attempt for the app and watches it in the
// background until a callback, expiry, or shutdown settles it.
func (s *Service) Connect(ctx context.Context, userID uuid.UUID, appSlug string, scopes ...string) (*connect.Attempt, connect.Link, error) {
	normalized := domain.NormalizeSlug(appSlug)
	if _, err := s.catalog.Lookup(ctx, normalized); err != nil {
		return nil, connect.Link{}, err
	}

	attempt, link, err := s.initiator.Begin(ctx, userID, appSlug, scopes...)
	if err != nil {
		// A blocked launch still yields a pending attempt: the user follows
		// the direct link instead, so keep watching for its callback.
		var blocked *connect.LaunchBlockedError
		if !errors.As(err, &blocked) || attempt == nil {
			return nil, connect.Link{}, err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.reconciler.Watch(s.baseCtx, attempt)
		logging.WithUser(attempt.UserID().String()).Info("Connection attempt settled",
			"app", attempt.AppSlug(),
			"trigger", res.Trigger,
			"success", res.Success,
		)
	}()

	// err is nil or the recoverable *LaunchBlockedError.
	return attempt, link, err
}

// Exchange implements connect.Exchanger: it validates the state token
// against the registry before trading the code for a token. A state token we
// never issued, or one past its deadline, fails the exchange.
func (s *Service) Exchange(ctx context.Context, code, state string) (*connect.Completion, error) {
	attempt, ok := s.registry.Resolve(state)
	if !ok {
		return nil, errors.New("unknown or expired state token")
	}

	token, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	return &connect.Completion{
		AppSlug:     attempt.AppSlug(),
		UserID:      attempt.UserID().String(),
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
	}, nil
}

// CompleteCallback settles an authorization callback. On success the session
// is persisted before the attempt's watcher is signalled, so a dashboard
// refreshed by the completion event already sees the connection. Failures
// are signalled too; a callback that names no live attempt only returns the
// error.
func (s *Service) CompleteCallback(ctx context.Context, params connect.CallbackParams) (*connect.Completion, error) {
	completion, err := connect.ProcessCallback(ctx, params, s)
	if err != nil {
		if attempt, ok := s.registry.Resolve(params.State); ok {
			attempt.Deliver(connect.Message{
				Type:    connect.MessageTypeOAuthComplete,
				Success: false,
				AppSlug: attempt.AppSlug(),
				Error:   err.Error(),
				Origin:  s.origin,
			})
		}
		return nil, err
	}

	attempt, ok := s.registry.Resolve(params.State)
	if !ok {
		return nil, errors.New("attempt vanished during code exchange")
	}

	lifetime := defaultSessionLifetime
	if completion.ExpiresIn > 0 {
		lifetime = time.Duration(completion.ExpiresIn) * time.Second
	}

	session := &domain.Session{
		UserID:      attempt.UserID(),
		AppSlug:     completion.AppSlug,
		AccessToken: completion.AccessToken,
		TokenType:   completion.TokenType,
		ExpiresAt:   s.clock.Now().UTC().Add(lifetime),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	attempt.Deliver(connect.Message{
		Type:    connect.MessageTypeOAuthComplete,
		Success: true,
		AppSlug: completion.AppSlug,
		Origin:  s.origin,
	})

	return completion, nil
}

// Disconnect deactivates the user's session for the app and drops the cached
// collections.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID, appSlug string) error {
	normalized := domain.NormalizeSlug(appSlug)
	if !domain.IsValidSlug(normalized) {
		return domain.ErrInvalidSlug
	}

	if err := s.sessions.Deactivate(ctx, userID, normalized); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, userID)
	logging.WithApp(normalized).Info("Disconnected app", "user_id", userID)
	return nil
}

// AttemptCompleted implements connect.CompletionSink. It runs exactly once
// per attempt: collections are invalidated, the registry entry dropped, and
// every dashboard the user has open is told the outcome.
func (s *Service) AttemptCompleted(ctx context.Context, a *connect.Attempt, res Result) {
	s.cache.Invalidate(ctx, a.UserID())
	s.registry.Remove(a.StateToken())

	msg := connect.Message{
		Type:    connect.MessageTypeOAuthComplete,
		Success: res.Success,
		AppSlug: res.AppSlug,
	}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	s.notifier.Broadcast(a.UserID(), msg)
}

// Result aliases the connect result for the sink signature.
type Result = connect.Result

// --- Maintenance ---

func (s *Service) startCleanupTimer() {
	ticker := s.clock.NewTicker(cleanupInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.Chan():
				s.cleanup()
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

func (s *Service) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deleted, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		slog.Warn("Expired session cleanup failed", "error", err)
	} else if deleted > 0 {
		slog.Info("Deleted expired sessions", "count", deleted)
	}

	if swept := s.registry.Sweep(); swept > 0 {
		slog.Debug("Swept settled connection attempts", "count", swept)
	}
}

// Stop tears down the watchers and the cleanup timer. In-flight attempts
// settle with a teardown result and no dashboards are refreshed.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.stopBase()
		close(s.stopCh)
		s.wg.Wait()
	})
}
