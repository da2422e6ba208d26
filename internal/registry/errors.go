package registry

import "errors"

// Sentinel errors callers can match with errors.Is.
var (
	ErrUnknownDescriptor = errors.New("registry: tunable not registered for this tuner")
	ErrCooldown          = errors.New("registry: write suppressed by cooldown")
	ErrNamespaceUnknown  = errors.New("registry: no handle for namespace cookie")
)
