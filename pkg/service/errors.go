package service

import "errors"

// Failure categories surfaced by lifecycle operations. All of them are
// caught at the Start/Remove/Status boundary and converted into the Error
// state plus a logged cause; they never propagate as faults to the
// reconciliation loop. Callers may errors.Is() against these to distinguish
// routine conditions (an unsatisfied dependency that a later poll will
// retry) from genuine failures.
var (
	// ErrConfigurationFailed indicates a setup step failed: directory
	// creation, ownership, device formatting, distribution download.
	ErrConfigurationFailed = errors.New("service configuration failed")

	// ErrChecksumMismatch indicates a fetched archive did not match its
	// expected checksum. Extraction never happens after this error.
	ErrChecksumMismatch = errors.New("archive checksum mismatch")

	// ErrDependencyNotRunning indicates a required role has no running
	// provider yet. The service stays Unstarted so a later poll can retry.
	ErrDependencyNotRunning = errors.New("required role not running")

	// ErrStateInconsistent indicates declared state and observed system
	// facts disagree, e.g. the mount point exists but is not exported.
	ErrStateInconsistent = errors.New("observed state inconsistent with declared state")

	// ErrProbeFailed indicates the underlying system-fact query itself
	// errored during reconciliation.
	ErrProbeFailed = errors.New("status probe failed")

	// ErrIllegalTransition indicates a lifecycle operation was invoked from
	// a state with no edge to the requested target.
	ErrIllegalTransition = errors.New("illegal lifecycle transition")

	// ErrProvisionInFlight indicates a provisioning task was dispatched
	// while a previous one for the same service had not completed.
	ErrProvisionInFlight = errors.New("provisioning task already in flight")
)
