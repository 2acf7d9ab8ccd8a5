package connect

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/domain"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/metrics"
)

// Link is an issued authorization link.
type Link struct {
	ConnectURL  string
	RedirectURL string
}

// LinkRequest asks the provider for an authorization link.
type LinkRequest struct {
	UserID     uuid.UUID
	AppSlug    string
	Scopes     []string
	StateToken string
}

// LinkRequester obtains authorization links from the connect provider.
type LinkRequester interface {
	ConnectLink(ctx context.Context, req LinkRequest) (Link, error)
}

// Launcher opens an authorization window for a link. Implementations return
// ErrLaunchBlocked when the environment refuses to open one; a launcher
// that can still route the callback for an unopened window may return a
// usable Handle alongside that error.
type Launcher interface {
	Launch(ctx context.Context, a *Attempt, link Link) (Handle, error)
}

// inflightKey scopes the single-flight rule to one user's attempt for one
// app. Different users connecting to the same app never contend.
type inflightKey struct {
	user uuid.UUID
	slug string
}

// Initiator starts connection attempts. It enforces the single-flight rule:
// at most one active attempt per user per app slug, while attempts for
// distinct users or distinct slugs run concurrently.
type Initiator struct {
	links    LinkRequester
	launcher Launcher

	mu       sync.Mutex
	inflight map[inflightKey]*Attempt
}

func NewInitiator(links LinkRequester, launcher Launcher) *Initiator {
	return &Initiator{
		links:    links,
		launcher: launcher,
		inflight: make(map[inflightKey]*Attempt),
	}
}

// InFlight reports whether the user has an active attempt for the slug.
func (i *Initiator) InFlight(userID uuid.UUID, appSlug string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.inflight[inflightKey{user: userID, slug: domain.NormalizeSlug(appSlug)}]
	return ok
}

// Begin normalizes the slug, requests an authorization link, and opens it.
// On success the returned attempt is window-open and must be handed to a
// Reconciler. The attempt's slot is released automatically once the attempt
// completes.
//
// Error cases: ErrAttemptInFlight when the user already has an active
// attempt for the slug; *LaunchBlockedError (carrying the fallback link)
// when the window could not be opened; *RequestError when the link request
// fails. A blocked launch whose Launcher still produced a handle returns
// the attempt alongside the error: it stays pending so the fallback link
// can complete it through the callback.
func (i *Initiator) Begin(ctx context.Context, userID uuid.UUID, appSlug string, scopes ...string) (*Attempt, Link, error) {
	slug := domain.NormalizeSlug(appSlug)
	if !domain.IsValidSlug(slug) {
		metrics.ConnectAttemptsTotal.WithLabelValues("rejected").Inc()
		return nil, Link{}, fmt.Errorf("%w: %q", domain.ErrInvalidSlug, appSlug)
	}
	if len(scopes) == 0 {
		scopes = []string{"basic"}
	}

	// State token ties the callback to this attempt.
	stateToken := userID.String() + ":" + uuid.NewString()
	a := newAttempt(userID, slug, scopes, stateToken)

	key := inflightKey{user: userID, slug: slug}
	i.mu.Lock()
	if _, busy := i.inflight[key]; busy {
		i.mu.Unlock()
		metrics.ConnectAttemptsTotal.WithLabelValues("rejected").Inc()
		return nil, Link{}, fmt.Errorf("%w: %s", ErrAttemptInFlight, slug)
	}
	i.inflight[key] = a
	i.mu.Unlock()

	link, err := i.links.ConnectLink(ctx, LinkRequest{
		UserID:     userID,
		AppSlug:    slug,
		Scopes:     scopes,
		StateToken: stateToken,
	})
	if err != nil {
		i.release(key)
		a.complete(Result{Trigger: TriggerTeardown, AppSlug: slug, Err: err})
		metrics.ConnectAttemptsTotal.WithLabelValues("request_error").Inc()
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return nil, Link{}, reqErr
		}
		return nil, Link{}, &RequestError{Cause: err}
	}

	a.setState(StateWindowOpen)

	handle, err := i.launcher.Launch(ctx, a, link)
	if err != nil {
		if errors.Is(err, ErrLaunchBlocked) {
			metrics.ConnectAttemptsTotal.WithLabelValues("blocked").Inc()
			if handle != nil {
				// The launcher kept the attempt reachable even though no
				// window opened: the user proceeds via the direct link, and
				// the callback resolves the same state token.
				i.watchRelease(key, a, handle)
				return a, link, &LaunchBlockedError{URL: link.ConnectURL}
			}
			i.release(key)
			a.complete(Result{Trigger: TriggerTeardown, AppSlug: slug, Err: err})
			return nil, link, &LaunchBlockedError{URL: link.ConnectURL}
		}
		i.release(key)
		a.complete(Result{Trigger: TriggerTeardown, AppSlug: slug, Err: err})
		metrics.ConnectAttemptsTotal.WithLabelValues("request_error").Inc()
		return nil, Link{}, &RequestError{Cause: err}
	}

	i.watchRelease(key, a, handle)
	metrics.ConnectAttemptsTotal.WithLabelValues("started").Inc()
	return a, link, nil
}

// watchRelease attaches the handle and frees the in-flight slot when the
// attempt resolves, so a retry starts from idle.
func (i *Initiator) watchRelease(key inflightKey, a *Attempt, handle Handle) {
	a.handle = handle
	go func() {
		<-a.Done()
		i.release(key)
	}()
}

func (i *Initiator) release(key inflightKey) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.inflight, key)
}
