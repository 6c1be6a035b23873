package auth

import "errors"

// Identity errors map to UNAUTHENTICATED: the gateway failed to attach a
// tenant, which the engine never guesses.
var (
	ErrMissingTenant = errors.New("tenant identity required in x-tenant-id metadata")
	ErrInvalidTenant = errors.New("invalid tenant identity")
)
