package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

// Error mapping:
// missing tenant -> UNAUTHENTICATED.
// Unknown step, rule set or rule -> NOT_FOUND.
// Validation errors -> INVALID_ARGUMENT.
// Audit-log and database errors -> UNAVAILABLE.
// Context timeouts map to DEADLINE_EXCEEDED.

var invalidArgument = []error{
	types.ErrMalformedRule,
	types.ErrExactRequiresInput,
	types.ErrUnknownAction,
	types.ErrInvalidPriority,
	types.ErrTooManyInputs,
	types.ErrInputTooLong,
	types.ErrInvalidVariableName,
	types.ErrInvalidStep,
	types.ErrInvalidAPIConfig,
}

var notFound = []error{
	types.ErrFlowNotFound,
	types.ErrStepNotFound,
	types.ErrRuleSetNotFound,
	types.ErrRuleNotFound,
}

// toStatus converts a domain error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Unavailable
	switch {
	case errors.Is(err, types.ErrMissingTenant):
		code = codes.Unauthenticated
	case isAny(err, notFound):
		code = codes.NotFound
	case isAny(err, invalidArgument):
		code = codes.InvalidArgument
	case errors.Is(err, variables.ErrNoContactStore):
		code = codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
