package health

import "errors"

var (
	// ErrUnreachable is the cause reported when a dependency ping fails.
	ErrUnreachable = errors.New("health: dependency unreachable")

	// ErrTimedOut is the cause reported when a check outlives its deadline.
	ErrTimedOut = errors.New("health: check did not finish in time")

	// ErrUnknownCheck is returned by Aggregator.Check for an unregistered name.
	ErrUnknownCheck = errors.New("health: no check registered under that name")
)
