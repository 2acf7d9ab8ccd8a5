package connect

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/metrics"
)

// defaultPollInterval is how often the reconciler checks whether the
// authorization window closed without sending a message.
const defaultPollInterval = time.Second

// CompletionSink receives the single completion notification for an
// attempt: refresh derived state (invalidate the apps/sessions collections)
// and fan the result out to the user's open views.
type CompletionSink interface {
	AttemptCompleted(ctx context.Context, a *Attempt, res Result)
}

// Reconciler watches an attempt until it completes, honoring both
// detection mechanisms: a completion message from the callback, and polled
// closure of the authorization window. The message path wins when both are
// observed; closure after a processed message is a no-op.
type Reconciler struct {
	origin       string
	sink         CompletionSink
	clock        clockwork.Clock
	pollInterval time.Duration
}

// ReconcilerOption adjusts a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) ReconcilerOption {
	return func(r *Reconciler) { r.clock = clock }
}

// WithPollInterval overrides the closure poll interval.
func WithPollInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.pollInterval = d }
}

// NewReconciler creates a reconciler bound to origin. Messages whose origin
// differs are discarded without touching attempt state.
func NewReconciler(origin string, sink CompletionSink, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		origin:       origin,
		sink:         sink,
		clock:        clockwork.NewRealClock(),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch blocks until the attempt completes or ctx is canceled, and returns
// the terminal result. The closure poll timer is released on every exit
// path. The completion sink fires exactly once per attempt.
func (r *Reconciler) Watch(ctx context.Context, a *Attempt) Result {
	a.setState(StateAwaiting)

	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-a.msgs:
			if r.handleMessage(ctx, a, msg) {
				return a.Result()
			}

		case <-ticker.Chan():
			// Message wins the tie when both are ready on the same tick.
			select {
			case msg := <-a.msgs:
				if r.handleMessage(ctx, a, msg) {
					return a.Result()
				}
				continue
			default:
			}

			if a.handle != nil && a.handle.Closed() {
				res := Result{Trigger: TriggerClosed, Success: false, AppSlug: a.appSlug}
				r.finish(ctx, a, res)
				return a.Result()
			}

		case <-ctx.Done():
			res := Result{Trigger: TriggerTeardown, Success: false, AppSlug: a.appSlug, Err: ctx.Err()}
			if a.complete(res) {
				metrics.CompletionsTotal.WithLabelValues(string(TriggerTeardown), "failure").Inc()
			}
			return a.Result()
		}
	}
}

// handleMessage processes one delivered message. It returns true when the
// message terminated the attempt.
func (r *Reconciler) handleMessage(ctx context.Context, a *Attempt, msg Message) bool {
	if msg.Origin != r.origin {
		// Foreign-origin messages never alter attempt state.
		metrics.CrossOriginMessagesDropped.Inc()
		return false
	}
	if msg.Type != MessageTypeOAuthComplete {
		return false
	}

	res := Result{Trigger: TriggerMessage, Success: msg.Success, AppSlug: a.appSlug}
	if !msg.Success {
		res.Err = &RequestError{Detail: msg.Error}
	}
	r.finish(ctx, a, res)
	return true
}

func (r *Reconciler) finish(ctx context.Context, a *Attempt, res Result) {
	if !a.complete(res) {
		return
	}

	// Dismiss the window after a successful message; a closed window needs
	// no dismissal.
	if res.Success && a.handle != nil {
		a.handle.Close()
	}

	result := "failure"
	if res.Success {
		result = "success"
	}
	metrics.CompletionsTotal.WithLabelValues(string(res.Trigger), result).Inc()

	if r.sink != nil {
		r.sink.AttemptCompleted(ctx, a, res)
	}
}
