package schedule

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type jobJSON struct {
	Reference          string    `json:"reference"`
	Description        string    `json:"description"`
	Amount             Money     `json:"amount"`
	ExpectedEndDate    string    `json:"expectedEndDate"`
	PercentageComplete string    `json:"percentageComplete"`
	Status             JobStatus `json:"status"`
}

// MarshalJSON encodes the job with exact decimal strings.
func (j Job) MarshalJSON() ([]byte, error) {
	date := ""
	if !j.expectedEndDate.IsZero() {
		date = j.expectedEndDate.Format(DateLayout)
	}
	return json.Marshal(jobJSON{
		Reference:          j.reference,
		Description:        j.description,
		Amount:             j.amount,
		ExpectedEndDate:    date,
		PercentageComplete: FormatRat(j.percentageComplete),
		Status:             j.status,
	})
}

// UnmarshalJSON decodes and re-validates a job.
func (j *Job) UnmarshalJSON(data []byte) error {
	var wire jobJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	params := JobParams{
		Reference:   wire.Reference,
		Description: wire.Description,
		Amount:      wire.Amount,
		Status:      wire.Status,
	}
	if wire.Status != "" {
		status, err := ParseJobStatus(string(wire.Status))
		if err != nil {
			return err
		}
		params.Status = status
	}
	if strings.TrimSpace(wire.ExpectedEndDate) != "" {
		date, err := ParseDate(wire.ExpectedEndDate)
		if err != nil {
			return invalid(ReasonMissingField, "job %s: expected end date: %v", wire.Reference, err)
		}
		params.ExpectedEndDate = date
	}
	if strings.TrimSpace(wire.PercentageComplete) != "" {
		pct, err := ParseRat(wire.PercentageComplete)
		if err != nil {
			return invalid(ReasonPercentOutOfRange, "job %s: %v", wire.Reference, err)
		}
		params.PercentageComplete = pct
	}
	job, err := NewJob(params)
	if err != nil {
		return err
	}
	*j = job
	return nil
}

type stateJSON struct {
	LinearID                string  `json:"linearId"`
	Employers               []Party `json:"employers"`
	Contractors             []Party `json:"contractors"`
	ContractSum             Money   `json:"contractSum"`
	RetentionPercentage     string  `json:"retentionPercentage"`
	AllowPaymentOnAccount   bool    `json:"allowPaymentOnAccount"`
	GrossCumulativeAmount   Money   `json:"grossCumulativeAmount"`
	RetentionAmount         Money   `json:"retentionAmount"`
	NetCumulativeValue      Money   `json:"netCumulativeValue"`
	PreviousCumulativeValue Money   `json:"previousCumulativeValue"`
	Jobs                    []Job   `json:"jobs"`
}

// MarshalJSON encodes the state. Field order is fixed, so the encoding is
// canonical and suitable for hashing.
func (s *ScheduleEscrowState) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(stateJSON{
		LinearID:                s.linearID.String(),
		Employers:               s.employers,
		Contractors:             s.contractors,
		ContractSum:             s.contractSum,
		RetentionPercentage:     FormatRat(s.retentionPercentage),
		AllowPaymentOnAccount:   s.allowPaymentOnAccount,
		GrossCumulativeAmount:   s.grossCumulativeAmount,
		RetentionAmount:         s.retentionAmount,
		NetCumulativeValue:      s.netCumulativeValue,
		PreviousCumulativeValue: s.previousCumulativeValue,
		Jobs:                    s.jobs,
	})
}

// UnmarshalJSON decodes and re-validates a state, so a malformed document can
// never produce an instance.
func (s *ScheduleEscrowState) UnmarshalJSON(data []byte) error {
	if s == nil {
		return fmt.Errorf("schedule: nil receiver")
	}
	var wire stateJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	params := StateParams{
		Employers:               wire.Employers,
		Contractors:             wire.Contractors,
		ContractSum:             wire.ContractSum,
		AllowPaymentOnAccount:   wire.AllowPaymentOnAccount,
		GrossCumulativeAmount:   wire.GrossCumulativeAmount,
		RetentionAmount:         wire.RetentionAmount,
		NetCumulativeValue:      wire.NetCumulativeValue,
		PreviousCumulativeValue: wire.PreviousCumulativeValue,
		Jobs:                    wire.Jobs,
	}
	if strings.TrimSpace(wire.LinearID) != "" {
		id, err := uuid.Parse(wire.LinearID)
		if err != nil {
			return invalid(ReasonMissingField, "linear id: %v", err)
		}
		params.LinearID = id
	}
	if strings.TrimSpace(wire.RetentionPercentage) != "" {
		pct, err := ParseRat(wire.RetentionPercentage)
		if err != nil {
			return invalid(ReasonPercentOutOfRange, "retention percentage: %v", err)
		}
		params.RetentionPercentage = pct
	}
	state, err := NewScheduleEscrowState(params)
	if err != nil {
		return err
	}
	*s = *state
	return nil
}

// DecodeState parses a JSON document into a validated state.
func DecodeState(data []byte) (*ScheduleEscrowState, error) {
	state := new(ScheduleEscrowState)
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// EncodeState returns the canonical JSON encoding of state.
func EncodeState(state *ScheduleEscrowState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("schedule: nil state")
	}
	return json.Marshal(state)
}
