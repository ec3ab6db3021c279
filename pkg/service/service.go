// Package service defines the lifecycle contract shared by every managed
// node service: the state machine, the role/dependency model, and the
// registry the dependency resolver runs against.
//
// Concrete services (NFS-exported transient storage, externally distributed
// applications) live in subpackages and embed StateTracker for the shared
// transition discipline.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/supernifty/cloudman/internal/logger"
)

// Service is the capability interface every managed service implements.
//
// Start and Remove execute synchronously and may block for the duration of
// the underlying shell or network operations; callers must budget for this.
// The one exception is archive-seeded provisioning, where Start returns
// after dispatching the task and the completion callback finishes the
// transition to Running.
//
// Status never returns an error: it reconciles the service's declared state
// against observed system facts and records any failure in the state itself.
type Service interface {
	// Name returns the unique service name used for registration.
	Name() string

	// Roles returns the capability roles this service fulfills.
	Roles() []Role

	// Dependencies returns the roles that must be Running before this
	// service may start.
	Dependencies() []Dependency

	// State returns the current lifecycle state.
	State() State

	// Start brings the service up. It must fail fast if a dependency is
	// unsatisfied rather than blocking; the reconciliation loop retries on
	// a later poll.
	Start(ctx context.Context) error

	// Remove tears the service down.
	Remove(ctx context.Context) error

	// Status reconciles declared state against observed facts. It is a
	// no-op while the service is in a quiescent or transitioning state.
	Status(ctx context.Context)
}

// StateTracker holds a service's state field and enforces the transition
// discipline. Concrete services embed it.
//
// Two call sites mutate the state of an archive-seeded filesystem: the
// service's own lifecycle methods, invoked by the reconciliation loop, and
// the provisioning completion callback, which runs on the task's goroutine.
// Both funnel through this tracker, whose mutex serializes them.
type StateTracker struct {
	mu      sync.Mutex
	name    string
	state   State
	lastErr error
}

// NewStateTracker returns a tracker in the Unstarted state.
func NewStateTracker(name string) StateTracker {
	return StateTracker{name: name, state: StateUnstarted}
}

// State returns the current lifecycle state.
func (t *StateTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the cause recorded by the most recent failure, or nil.
func (t *StateTracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Transition moves the service along the lifecycle edge to the target
// state. An illegal edge forces the Error state so a failed operation can
// never silently revert, and returns ErrIllegalTransition.
func (t *StateTracker) Transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

// TransitionFrom takes the from -> to edge only when the tracker is still
// in from, all under one lock hold. A tracker that has moved on returns
// ErrIllegalTransition without touching the state, so a callback racing a
// teardown cannot force a cleanly shut-down service into Error.
func (t *StateTracker) TransitionFrom(from, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != from {
		return fmt.Errorf("%w: %s -> %s, tracker now in %s",
			ErrIllegalTransition, from, to, t.state)
	}
	return t.transitionLocked(to)
}

func (t *StateTracker) transitionLocked(to State) error {
	if t.state == to {
		return nil
	}
	if !CanTransition(t.state, to) {
		err := fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, to)
		logger.Error("Illegal service state transition", "service", t.name,
			"from", t.state.String(), "to", to.String())
		t.state = StateError
		t.lastErr = err
		return err
	}

	logger.Debug("Service state transition", "service", t.name,
		"from", t.state.String(), "to", to.String())
	t.state = to
	return nil
}

// Fail records the cause and moves the service to Error. Every state has an
// edge to Error, so this always succeeds.
func (t *StateTracker) Fail(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cause != nil {
		t.lastErr = cause
	}
	if t.state != StateError {
		logger.Debug("Service state transition", "service", t.name,
			"from", t.state.String(), "to", StateError.String())
	}
	t.state = StateError
}

// FailFrom records the cause and moves to Error only when the tracker is
// still in from, under one lock hold. It reports whether the failure was
// recorded; false means the state had already moved on and the caller
// should discard the result.
func (t *StateTracker) FailFrom(from State, cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != from {
		return false
	}
	if cause != nil {
		t.lastErr = cause
	}
	logger.Debug("Service state transition", "service", t.name,
		"from", t.state.String(), "to", StateError.String())
	t.state = StateError
	return true
}

// Reconcile sets the state directly from an observed system fact, bypassing
// the transition table. Reconciliation corrects drift the machine did not
// drive (an ephemeral disk vanishing with the node, an export entry removed
// behind our back), so it is allowed to take edges the lifecycle itself
// would reject. The change is logged when the state actually moves.
func (t *StateTracker) Reconcile(to State, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cause != nil {
		t.lastErr = cause
	}
	if t.state == to {
		return
	}
	logger.Info("Service state reconciled", "service", t.name,
		"from", t.state.String(), "to", to.String())
	t.state = to
}

// Retry re-enters Unstarted from an absorbing state so the reconciliation
// loop will attempt another start. It is the operator-triggered escape from
// Error and WaitingForUserAction; any other state rejects the retry without
// touching the state field.
func (t *StateTracker) Retry() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateError && t.state != StateWaitingForUserAction {
		return fmt.Errorf("%w: retry from %s", ErrIllegalTransition, t.state)
	}

	logger.Info("Service retry requested", "service", t.name,
		"from", t.state.String())
	t.state = StateUnstarted
	t.lastErr = nil
	return nil
}
