package stack

import "errors"

// ErrConfiguration marks fatal configuration problems: dependency cycles,
// colliding environment identities, missing required fields. Surfaced
// before any container is started, never retried.
var ErrConfiguration = errors.New("configuration error")

// ErrUnhealthy marks a dependency whose probe retry budget was exhausted.
// Fatal to the current startup sequence.
var ErrUnhealthy = errors.New("dependency unhealthy")

// ErrSetupFailed marks a failed one-time initialization. The marker is
// withheld and the application process must not be started.
var ErrSetupFailed = errors.New("initialization setup failed")
