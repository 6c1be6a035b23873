package types

import (
	"time"

	"github.com/google/uuid"
)

// newV7 generates a UUIDv7 string.
// Time-ordered IDs keep "stable creation order" cheap: sorting by ID breaks
// priority ties the same way sorting by created_at does.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func newV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewFlowID generates a UUIDv7 flow identifier.
func NewFlowID() FlowID { return FlowID(newV7()) }

// NewStepID generates a UUIDv7 step identifier.
func NewStepID() StepID { return StepID(newV7()) }

// NewRuleSetID generates a UUIDv7 rule set identifier.
func NewRuleSetID() RuleSetID { return RuleSetID(newV7()) }

// NewRuleID generates a UUIDv7 rule identifier.
func NewRuleID() RuleID { return RuleID(newV7()) }

// NewLogID generates a UUIDv7 interaction log identifier.
func NewLogID() LogID { return LogID(newV7()) }

// ParseStepID validates and converts a string to StepID.
// Rejects malformed UUIDs before they reach the store.
func ParseStepID(s string) (StepID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return StepID(s), nil
}

// ParseRuleID validates and converts a string to RuleID.
func ParseRuleID(s string) (RuleID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return RuleID(s), nil
}

// RuleIDTime extracts the timestamp embedded in a UUIDv7 rule ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func RuleIDTime(id RuleID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
