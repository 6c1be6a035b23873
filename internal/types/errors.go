package types

import "errors"

// Sentinel errors for flowkeeper operations.
var (
	// ErrFlowNotFound indicates the flow does not exist or was soft-deleted.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrStepNotFound indicates the step does not exist or was soft-deleted.
	ErrStepNotFound = errors.New("step not found")

	// ErrRuleSetNotFound indicates the rule set does not exist or was soft-deleted.
	ErrRuleSetNotFound = errors.New("rule set not found")

	// ErrRuleNotFound indicates the rule does not exist or was soft-deleted.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrMalformedRule indicates stored rule data could not be decoded.
	ErrMalformedRule = errors.New("malformed rule data")

	// ErrExactRequiresInput indicates an exact rule with an empty input set.
	ErrExactRequiresInput = errors.New("exact rule requires at least one input")

	// ErrUnknownAction indicates an action kind outside the known set.
	ErrUnknownAction = errors.New("unknown action kind")

	// ErrInvalidPriority indicates a negative rule priority.
	ErrInvalidPriority = errors.New("priority must be non-negative")

	// ErrTooManyInputs indicates a rule exceeds MaxRuleInputs.
	ErrTooManyInputs = errors.New("rule has too many inputs")

	// ErrInputTooLong indicates a trigger string exceeds MaxRuleInputLength.
	ErrInputTooLong = errors.New("rule input too long")

	// ErrInvalidVariableName indicates an empty or oversized variable name.
	ErrInvalidVariableName = errors.New("invalid variable name")

	// ErrInvalidStep indicates an unknown step kind or empty step name.
	ErrInvalidStep = errors.New("invalid step")

	// ErrMissingTenant indicates an operation ran without tenant identity.
	ErrMissingTenant = errors.New("missing tenant identity")

	// ErrAuditLog indicates the resolution could not be audited.
	ErrAuditLog = errors.New("audit log write failed")

	// ErrInvalidAPIConfig indicates an API step configuration is unusable.
	ErrInvalidAPIConfig = errors.New("invalid api step config")
)
