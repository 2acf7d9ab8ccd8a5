package connect

import (
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle position of a connection attempt.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateWindowOpen
	StateAwaiting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateWindowOpen:
		return "window-open"
	case StateAwaiting:
		return "awaiting-completion"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Trigger identifies what ended an attempt.
type Trigger string

const (
	// TriggerMessage: a completion message arrived.
	TriggerMessage Trigger = "message"
	// TriggerClosed: the window closed without a message.
	TriggerClosed Trigger = "closed"
	// TriggerTeardown: the watcher was torn down before completion.
	TriggerTeardown Trigger = "teardown"
)

// Result is the terminal outcome of an attempt.
type Result struct {
	Trigger Trigger
	Success bool
	AppSlug string
	Err     error
}

// Handle is the live authorization window, or its server-side stand-in.
// Closed reports whether the window is gone; Close dismisses it.
type Handle interface {
	Closed() bool
	Close()
}

// Attempt is a single in-flight connection attempt for one app slug.
// Exactly one completion wins; later messages and closure observations are
// dropped.
type Attempt struct {
	userID     uuid.UUID
	appSlug    string
	scopes     []string
	stateToken string
	handle     Handle
	msgs       chan Message

	mu        sync.Mutex
	state     State
	completed bool
	result    Result
	done      chan struct{}
}

func newAttempt(userID uuid.UUID, appSlug string, scopes []string, stateToken string) *Attempt {
	return &Attempt{
		userID:     userID,
		appSlug:    appSlug,
		scopes:     scopes,
		stateToken: stateToken,
		msgs:       make(chan Message, 4),
		state:      StateRequesting,
		done:       make(chan struct{}),
	}
}

func (a *Attempt) UserID() uuid.UUID  { return a.userID }
func (a *Attempt) AppSlug() string    { return a.appSlug }
func (a *Attempt) StateToken() string { return a.stateToken }

// State returns the current lifecycle state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed once the attempt reaches a terminal state.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the terminal outcome; zero until Done is closed.
func (a *Attempt) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Deliver hands a completion message to the attempt's watcher. Messages
// arriving after completion are dropped.
func (a *Attempt) Deliver(msg Message) {
	a.mu.Lock()
	if a.completed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	select {
	case a.msgs <- msg:
	default:
		// watcher backlog full; the attempt is already resolving
	}
}

func (a *Attempt) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// complete records the terminal result. It returns false if the attempt was
// already completed, making every later signal a no-op.
func (a *Attempt) complete(res Result) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed {
		return false
	}
	a.completed = true
	a.result = res
	if res.Success {
		a.state = StateSucceeded
	} else {
		a.state = StateFailed
	}
	close(a.done)
	return true
}
