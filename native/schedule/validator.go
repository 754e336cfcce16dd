package schedule

import (
	"math/big"
)

// defaultTolerance is one minor currency unit.
var defaultTolerance = big.NewRat(1, 100)

// DefaultTolerance returns a copy of the absolute tolerance applied to the
// valuation and retention checks when none is configured.
func DefaultTolerance() *big.Rat { return copyRat(defaultTolerance) }

// Validator decides whether a proposed state is a legal successor of the
// current one. It holds no state between calls and is safe for concurrent
// use. The zero value uses DefaultPolicy and DefaultTolerance.
type Validator struct {
	Policy    TransitionPolicy
	Tolerance *big.Rat
}

// Option customises a Validator.
type Option func(*Validator)

// WithPolicy sets the job status transition graph.
func WithPolicy(policy TransitionPolicy) Option {
	return func(v *Validator) { v.Policy = policy }
}

// WithTolerance sets the absolute valuation tolerance.
func WithTolerance(tolerance *big.Rat) Option {
	return func(v *Validator) {
		if tolerance != nil && tolerance.Sign() >= 0 {
			v.Tolerance = copyRat(tolerance)
		}
	}
}

// NewValidator returns a validator with the supplied options applied.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{Policy: DefaultPolicy(), Tolerance: DefaultTolerance()}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func (v *Validator) tolerance() *big.Rat {
	if v == nil || v.Tolerance == nil {
		return defaultTolerance
	}
	return v.Tolerance
}

func (v *Validator) policy() TransitionPolicy {
	if v == nil {
		return DefaultPolicy()
	}
	return v.Policy
}

// Decision is the value form of a validation outcome.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Err returns the rejection as an error, or nil when accepted.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &Rejection{Reason: d.Reason, Message: d.Message}
}

func decisionOf(r *Rejection) Decision {
	if r == nil {
		return Decision{Accepted: true}
	}
	return Decision{Reason: r.Reason, Message: r.Message}
}

// Validate runs the transition checks in order and returns the first failure,
// or nil when newState is an acceptable successor of oldState.
func (v *Validator) Validate(oldState, newState *ScheduleEscrowState, authorizers []Party) *Rejection {
	if oldState == nil || newState == nil {
		return reject(ReasonMissingState, "both the current and proposed states are required")
	}
	if oldState.linearID != newState.linearID {
		return reject(ReasonIdentityMismatch, "linear id %s does not match %s", newState.linearID, oldState.linearID)
	}
	if missing := missingParties(oldState.Participants(), authorizers); len(missing) > 0 {
		return reject(ReasonMissingAuthorization, "%d participant(s) did not authorise, first %s", len(missing), missing[0])
	}
	if oldState.Currency() != newState.Currency() {
		return reject(ReasonCurrencyMismatch, "currency changed from %s to %s", oldState.Currency(), newState.Currency())
	}
	if r := v.checkJobs(oldState, newState); r != nil {
		return r
	}
	tolerance := v.tolerance()
	expectedGross := newState.ExpectedGross()
	if !withinTolerance(expectedGross.rat(), newState.grossCumulativeAmount.rat(), tolerance) {
		return reject(ReasonValuationMismatch, "gross cumulative amount %s, jobs value %s", newState.grossCumulativeAmount, expectedGross)
	}
	expectedRetention := newState.grossCumulativeAmount.Percent(newState.retentionPercentage)
	if !withinTolerance(expectedRetention.rat(), newState.retentionAmount.rat(), tolerance) {
		return reject(ReasonRetentionMismatch, "retention amount %s, expected %s", newState.retentionAmount, expectedRetention)
	}
	expectedNet, _ := newState.grossCumulativeAmount.Sub(newState.retentionAmount)
	if !expectedNet.Equal(newState.netCumulativeValue) {
		return reject(ReasonArithmeticViolation, "net cumulative value %s, gross less retention %s", newState.netCumulativeValue, expectedNet)
	}
	if !newState.allowPaymentOnAccount {
		for _, job := range newState.jobs {
			pct := job.percentageComplete
			if job.status == JobStatusPending && pct.Sign() > 0 && pct.Cmp(ratHundred) < 0 {
				return reject(ReasonPolicyViolation, "job %s is pending at %s%% and payment on account is disabled", job.reference, FormatRat(pct))
			}
		}
	}
	return nil
}

// Decide is Validate in value form.
func (v *Validator) Decide(oldState, newState *ScheduleEscrowState, authorizers []Party) Decision {
	return decisionOf(v.Validate(oldState, newState, authorizers))
}

func (v *Validator) checkJobs(oldState, newState *ScheduleEscrowState) *Rejection {
	policy := v.policy()
	for _, before := range oldState.jobs {
		after, ok := newState.Job(before.reference)
		if !ok {
			continue
		}
		if after.percentageComplete.Cmp(before.percentageComplete) < 0 {
			return reject(ReasonIllegalJobTransition, "job %s percentage decreased from %s to %s",
				before.reference, FormatRat(before.percentageComplete), FormatRat(after.percentageComplete))
		}
		if !policy.Allows(before.status, after.status) {
			return reject(ReasonIllegalJobTransition, "job %s cannot move from %s to %s", before.reference, before.status, after.status)
		}
	}
	return nil
}

func missingParties(required, authorizers []Party) []Party {
	signed := make(map[Party]struct{}, len(authorizers))
	for _, party := range authorizers {
		signed[normalizeParty(party)] = struct{}{}
	}
	var missing []Party
	for _, party := range required {
		if _, ok := signed[party]; !ok {
			missing = append(missing, party)
		}
	}
	return missing
}

var defaultValidator = NewValidator()

// Validate checks a transition with the default policy and tolerance.
func Validate(oldState, newState *ScheduleEscrowState, authorizers []Party) *Rejection {
	return defaultValidator.Validate(oldState, newState, authorizers)
}
