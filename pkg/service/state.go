package service

// State is the lifecycle state of a managed service.
//
// Exactly one value applies to a service instance at any time. The state
// field is owned by the service instance: only its own lifecycle methods and,
// for archive-seeded filesystems, the provisioning completion callback may
// write it, and both writers are serialized by the instance's mutex (see
// StateTracker).
type State int

const (
	// StateUnstarted indicates the service has not been started yet
	StateUnstarted State = iota
	// StateConfiguring indicates asynchronous provisioning is materializing
	// the service's backing data; only the provisioning callback advances
	// the service out of this state
	StateConfiguring
	// StateStarting indicates the service is executing its startup sequence
	StateStarting
	// StateRunning indicates the service is operational
	StateRunning
	// StateShuttingDown indicates the service is executing its stop sequence
	StateShuttingDown
	// StateShutDown indicates the service stopped cleanly
	StateShutDown
	// StateError indicates a lifecycle operation or reconciliation failed
	StateError
	// StateWaitingForUserAction indicates the service needs operator input
	// before it can proceed
	StateWaitingForUserAction
)

// String returns the display form of the state.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateConfiguring:
		return "Configuring"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "Shutting down"
	case StateShutDown:
		return "Shut down"
	case StateError:
		return "Error"
	case StateWaitingForUserAction:
		return "Waiting for user action"
	default:
		return "Unknown"
	}
}

// transitions is the set of legal lifecycle edges. Error and
// WaitingForUserAction are absorbing except for the operator-triggered retry
// back to Unstarted.
var transitions = map[State][]State{
	StateUnstarted:            {StateConfiguring, StateStarting, StateError},
	StateConfiguring:          {StateStarting, StateError},
	StateStarting:             {StateRunning, StateError},
	StateRunning:              {StateShuttingDown, StateError},
	StateShuttingDown:         {StateShutDown, StateError},
	StateShutDown:             {},
	StateError:                {StateUnstarted},
	StateWaitingForUserAction: {StateUnstarted},
}

// CanTransition reports whether the edge from -> to is a legal lifecycle
// transition.
func CanTransition(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Quiescent reports whether the state is one in which status reconciliation
// performs no observation: the state itself is already driving an active
// operation (or there is nothing to observe), so a poll is a no-op.
// Configuring is included because only the provisioning callback may advance
// a service out of it.
func (s State) Quiescent() bool {
	switch s {
	case StateUnstarted, StateConfiguring, StateStarting,
		StateShuttingDown, StateShutDown, StateWaitingForUserAction:
		return true
	default:
		return false
	}
}
