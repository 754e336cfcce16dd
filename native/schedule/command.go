package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommandType names the business event a transition records.
type CommandType string

const (
	CommandIssue           CommandType = "ISSUE"
	CommandStartJob        CommandType = "START_JOB"
	CommandDeclareComplete CommandType = "DECLARE_COMPLETE"
	CommandDisputeJob      CommandType = "DISPUTE_JOB"
	CommandRecordValuation CommandType = "RECORD_VALUATION"
	CommandAmendAmount     CommandType = "AMEND_AMOUNT"
	CommandAmendEndDate    CommandType = "AMEND_END_DATE"
)

// ParseCommandType normalises a textual command type.
func ParseCommandType(value string) (CommandType, error) {
	normalized := CommandType(strings.ToUpper(strings.TrimSpace(value)))
	switch normalized {
	case CommandIssue, CommandStartJob, CommandDeclareComplete, CommandDisputeJob,
		CommandRecordValuation, CommandAmendAmount, CommandAmendEndDate:
		return normalized, nil
	default:
		return "", fmt.Errorf("unknown command type %q", value)
	}
}

// Command identifies the event a proposed version records. JobIndex targets a
// milestone for every type except ISSUE. Amount and EndDate carry the agreed
// values for the amendment commands.
type Command struct {
	Type     CommandType
	JobIndex int
	Amount   Money
	EndDate  time.Time
}

type commandJSON struct {
	Type     CommandType `json:"type"`
	JobIndex int         `json:"jobIndex"`
	Amount   *Money      `json:"amount,omitempty"`
	EndDate  string      `json:"endDate,omitempty"`
}

// MarshalJSON encodes the command with a calendar-date end date.
func (c Command) MarshalJSON() ([]byte, error) {
	wire := commandJSON{Type: c.Type, JobIndex: c.JobIndex}
	if !c.Amount.unset() {
		amount := c.Amount
		wire.Amount = &amount
	}
	if !c.EndDate.IsZero() {
		wire.EndDate = c.EndDate.Format(DateLayout)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (c *Command) UnmarshalJSON(data []byte) error {
	var wire commandJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	kind, err := ParseCommandType(string(wire.Type))
	if err != nil {
		return err
	}
	out := Command{Type: kind, JobIndex: wire.JobIndex}
	if wire.Amount != nil {
		out.Amount = *wire.Amount
	}
	if strings.TrimSpace(wire.EndDate) != "" {
		date, err := ParseDate(wire.EndDate)
		if err != nil {
			return fmt.Errorf("command end date: %w", err)
		}
		out.EndDate = date
	}
	*c = out
	return nil
}

// VerifyIssuance checks the first version of a schedule: every participant
// authorises, employers and contractors are distinct parties, all jobs are
// pending at zero, the contract sum is positive and nothing has been valued.
func (v *Validator) VerifyIssuance(state *ScheduleEscrowState, authorizers []Party) *Rejection {
	if state == nil {
		return reject(ReasonMissingState, "issued state required")
	}
	employers := make(map[Party]struct{}, len(state.employers))
	for _, party := range state.employers {
		employers[party] = struct{}{}
	}
	for _, party := range state.contractors {
		if _, ok := employers[party]; ok {
			return reject(ReasonInvalidIssuance, "party %s is both employer and contractor", party)
		}
	}
	if state.contractSum.Sign() <= 0 {
		return reject(ReasonInvalidIssuance, "contract sum must be positive")
	}
	for _, job := range state.jobs {
		if job.status != JobStatusPending {
			return reject(ReasonInvalidIssuance, "job %s must be pending at issuance", job.reference)
		}
		if job.percentageComplete.Sign() != 0 {
			return reject(ReasonInvalidIssuance, "job %s must be unstarted at issuance", job.reference)
		}
	}
	for _, m := range []Money{state.grossCumulativeAmount, state.retentionAmount, state.netCumulativeValue, state.previousCumulativeValue} {
		if m.Sign() != 0 {
			return reject(ReasonInvalidIssuance, "accumulators must be zero at issuance")
		}
	}
	if missing := missingParties(state.Participants(), authorizers); len(missing) > 0 {
		return reject(ReasonMissingAuthorization, "%d participant(s) did not authorise issuance, first %s", len(missing), missing[0])
	}
	return nil
}

// Verify runs Validate and then the rules specific to cmd. For ISSUE the
// old state must be nil and only VerifyIssuance applies.
func (v *Validator) Verify(cmd Command, oldState, newState *ScheduleEscrowState, authorizers []Party) *Rejection {
	if cmd.Type == CommandIssue {
		if oldState != nil {
			return reject(ReasonInvalidCommand, "issue cannot consume an existing state")
		}
		return v.VerifyIssuance(newState, authorizers)
	}
	if r := v.Validate(oldState, newState, authorizers); r != nil {
		return r
	}
	return verifyCommand(cmd, oldState, newState)
}

func verifyCommand(cmd Command, oldState, newState *ScheduleEscrowState) *Rejection {
	if cmd.JobIndex < 0 || cmd.JobIndex >= len(oldState.jobs) {
		return reject(ReasonInvalidCommand, "job index %d out of range", cmd.JobIndex)
	}
	if len(newState.jobs) != len(oldState.jobs) {
		return reject(ReasonUnexpectedModification, "job count changed from %d to %d", len(oldState.jobs), len(newState.jobs))
	}
	if r := verifyScheduleTerms(oldState, newState); r != nil {
		return r
	}
	for i := range oldState.jobs {
		if i == cmd.JobIndex {
			continue
		}
		if !oldState.jobs[i].Equal(newState.jobs[i]) {
			return reject(ReasonUnexpectedModification, "job %s changed but is not targeted", oldState.jobs[i].reference)
		}
	}

	before, after := oldState.jobs[cmd.JobIndex], newState.jobs[cmd.JobIndex]
	expected := before.Copy()
	allowDescription := false
	switch cmd.Type {
	case CommandStartJob:
		if before.status != JobStatusPending {
			return reject(ReasonIllegalJobTransition, "job %s must be pending to start", before.reference)
		}
		// Starting a job may report its first valuation in the same version.
		expected = expected.WithStatus(JobStatusInProgress).WithPercentageComplete(after.percentageComplete)
	case CommandDeclareComplete:
		if before.status != JobStatusInProgress {
			return reject(ReasonIllegalJobTransition, "job %s must be in progress to complete", before.reference)
		}
		expected = expected.WithStatus(JobStatusComplete).WithPercentageComplete(ratHundred)
		allowDescription = true
	case CommandDisputeJob:
		if before.status != JobStatusInProgress {
			return reject(ReasonIllegalJobTransition, "job %s must be in progress to dispute", before.reference)
		}
		expected = expected.WithStatus(JobStatusDisputed)
	case CommandRecordValuation:
		if before.status == JobStatusComplete || before.status == JobStatusDisputed {
			return reject(ReasonInvalidCommand, "job %s is %s and cannot be revalued", before.reference, before.status)
		}
		expected = expected.WithPercentageComplete(after.percentageComplete)
	case CommandAmendAmount:
		if before.status == JobStatusComplete {
			return reject(ReasonInvalidCommand, "job %s is complete and cannot be amended", before.reference)
		}
		if !cmd.Amount.unset() && !cmd.Amount.Equal(after.amount) {
			return reject(ReasonUnexpectedModification, "job %s amount %s, command agreed %s", before.reference, after.amount, cmd.Amount)
		}
		expected = expected.WithAmount(after.amount)
	case CommandAmendEndDate:
		if before.status == JobStatusComplete {
			return reject(ReasonInvalidCommand, "job %s is complete and cannot be rescheduled", before.reference)
		}
		if !cmd.EndDate.IsZero() && !truncateDate(cmd.EndDate).Equal(after.expectedEndDate) {
			return reject(ReasonUnexpectedModification, "job %s end date %s, command agreed %s",
				before.reference, after.expectedEndDate.Format(DateLayout), cmd.EndDate.Format(DateLayout))
		}
		if after.expectedEndDate.Equal(before.expectedEndDate) {
			return reject(ReasonInvalidCommand, "job %s end date unchanged", before.reference)
		}
		expected = expected.WithExpectedEndDate(after.expectedEndDate)
	default:
		return reject(ReasonInvalidCommand, "unsupported command %q", cmd.Type)
	}
	if allowDescription {
		expected = expected.WithDescription(after.description)
	}
	want, err := expected.Build()
	if err != nil {
		return reject(ReasonInvalidCommand, "%v", err)
	}
	if !want.Equal(after) {
		return reject(ReasonUnexpectedModification, "job %s changed beyond what %s permits", before.reference, cmd.Type)
	}
	return verifyPreviousValue(oldState, newState)
}

func verifyScheduleTerms(oldState, newState *ScheduleEscrowState) *Rejection {
	switch {
	case !partiesEqual(oldState.employers, newState.employers):
		return reject(ReasonUnexpectedModification, "employers changed")
	case !partiesEqual(oldState.contractors, newState.contractors):
		return reject(ReasonUnexpectedModification, "contractors changed")
	case !oldState.contractSum.Equal(newState.contractSum):
		return reject(ReasonUnexpectedModification, "contract sum changed")
	case oldState.retentionPercentage.Cmp(newState.retentionPercentage) != 0:
		return reject(ReasonUnexpectedModification, "retention percentage changed")
	case oldState.allowPaymentOnAccount != newState.allowPaymentOnAccount:
		return reject(ReasonUnexpectedModification, "payment on account policy changed")
	}
	for i := range oldState.jobs {
		if oldState.jobs[i].reference != newState.jobs[i].reference {
			return reject(ReasonUnexpectedModification, "job %d reference changed", i)
		}
	}
	return nil
}

// verifyPreviousValue links valuations: when the gross amount moves, the
// previous cumulative value must be the old net value. Otherwise it must not
// move.
func verifyPreviousValue(oldState, newState *ScheduleEscrowState) *Rejection {
	if !oldState.grossCumulativeAmount.Equal(newState.grossCumulativeAmount) {
		if !newState.previousCumulativeValue.Equal(oldState.netCumulativeValue) {
			return reject(ReasonPreviousValueMismatch, "previous cumulative value %s, prior net value %s",
				newState.previousCumulativeValue, oldState.netCumulativeValue)
		}
		return nil
	}
	if !newState.previousCumulativeValue.Equal(oldState.previousCumulativeValue) {
		return reject(ReasonPreviousValueMismatch, "previous cumulative value changed without a revaluation")
	}
	return nil
}

// Verify checks a command with the default policy and tolerance.
func Verify(cmd Command, oldState, newState *ScheduleEscrowState, authorizers []Party) *Rejection {
	return defaultValidator.Verify(cmd, oldState, newState, authorizers)
}

// VerifyIssuance checks an issuance with the default validator.
func VerifyIssuance(state *ScheduleEscrowState, authorizers []Party) *Rejection {
	return defaultValidator.VerifyIssuance(state, authorizers)
}
