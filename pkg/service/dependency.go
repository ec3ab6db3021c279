package service

// Dependency declares that a service requires some other service advertising
// the given role to be Running before it may start. Dependencies are created
// at service construction, never mutated, and consulted only at start time.
type Dependency struct {
	// Owner is the name of the dependent service, for logging.
	Owner string

	// Requires is the role some running service must provide.
	Requires Role
}

// Resolver answers whether a service's declared prerequisites are satisfied.
// It never waits or retries: an unsatisfied dependency fails fast and the
// reconciliation loop re-invokes Start after a later poll finds the
// dependency satisfied.
type Resolver interface {
	// CanStart returns nil when every dependency of the service is
	// satisfied, or ErrDependencyNotRunning (wrapped with the missing
	// role) otherwise.
	CanStart(svc Service) error

	// Satisfied reports whether at least one registered service advertising
	// the role is Running. Any satisfying instance is sufficient; there is
	// no preference ordering between providers.
	Satisfied(role Role) bool
}
