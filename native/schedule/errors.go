package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState matches every construction-time ValidationError via
	// errors.Is.
	ErrInvalidState = errors.New("schedule: invalid state")
	// ErrRejected matches every transition-time Rejection via errors.Is.
	ErrRejected = errors.New("schedule: transition rejected")
)

// Reason is a machine-readable code attached to validation failures and
// transition rejections.
type Reason string

// Construction-time reasons.
const (
	ReasonCurrencyMismatch   Reason = "CURRENCY_MISMATCH"
	ReasonPercentOutOfRange  Reason = "PERCENT_OUT_OF_RANGE"
	ReasonNegativeAmount     Reason = "NEGATIVE_AMOUNT"
	ReasonEmptyPartySet      Reason = "EMPTY_PARTY_SET"
	ReasonInvalidParty       Reason = "INVALID_PARTY"
	ReasonMissingField       Reason = "MISSING_FIELD"
	ReasonInvalidStatus      Reason = "INVALID_STATUS"
	ReasonEmptySchedule      Reason = "EMPTY_SCHEDULE"
	ReasonDuplicateReference Reason = "DUPLICATE_REFERENCE"
)

// Transition-time reasons. The first eight mirror the validator checks in
// evaluation order.
const (
	ReasonIdentityMismatch       Reason = "IDENTITY_MISMATCH"
	ReasonMissingAuthorization   Reason = "MISSING_AUTHORIZATION"
	ReasonIllegalJobTransition   Reason = "ILLEGAL_JOB_TRANSITION"
	ReasonValuationMismatch      Reason = "VALUATION_MISMATCH"
	ReasonRetentionMismatch      Reason = "RETENTION_MISMATCH"
	ReasonArithmeticViolation    Reason = "ARITHMETIC_INVARIANT_VIOLATION"
	ReasonPolicyViolation        Reason = "POLICY_VIOLATION"
	ReasonMissingState           Reason = "MISSING_STATE"
	ReasonInvalidCommand         Reason = "INVALID_COMMAND"
	ReasonUnexpectedModification Reason = "UNEXPECTED_MODIFICATION"
	ReasonPreviousValueMismatch  Reason = "PREVIOUS_VALUE_MISMATCH"
	ReasonInvalidIssuance        Reason = "INVALID_ISSUANCE"
)

// ValidationError reports why a Job or ScheduleEscrowState could not be
// constructed.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("schedule: %s: %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("schedule: %s", e.Reason)
}

// Is lets errors.Is(err, ErrInvalidState) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidState
}

func invalid(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Rejection reports why a proposed transition is not a legal successor.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	if r == nil {
		return ""
	}
	if r.Message != "" {
		return fmt.Sprintf("schedule: rejected %s: %s", r.Reason, r.Message)
	}
	return fmt.Sprintf("schedule: rejected %s", r.Reason)
}

// Is lets errors.Is(err, ErrRejected) match any rejection.
func (r *Rejection) Is(target error) bool {
	return target == ErrRejected
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the reason code from a ValidationError or Rejection found
// anywhere in err's chain. It returns the empty reason otherwise.
func ReasonOf(err error) Reason {
	var rejection *Rejection
	if errors.As(err, &rejection) && rejection != nil {
		return rejection.Reason
	}
	var validation *ValidationError
	if errors.As(err, &validation) && validation != nil {
		return validation.Reason
	}
	return ""
}
