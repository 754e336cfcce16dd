package schedule

import (
	"math/big"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout is the calendar-date layout used for expected end dates.
const DateLayout = "2006-01-02"

// Party identifies a contract participant. The schedule treats it as opaque.
type Party string

func normalizeParty(p Party) Party {
	return Party(norm.NFC.String(strings.TrimSpace(string(p))))
}

func (p Party) String() string { return string(p) }

// JobStatus enumerates the lifecycle stages of a milestone.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusComplete   JobStatus = "COMPLETE"
	JobStatusDisputed   JobStatus = "DISPUTED"
)

// JobStatuses lists every status in lifecycle order.
func JobStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusInProgress, JobStatusComplete, JobStatusDisputed}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusComplete, JobStatusDisputed:
		return true
	default:
		return false
	}
}

// ParseJobStatus normalises a textual status. "COMPLETED" is accepted as an
// alias of COMPLETE.
func ParseJobStatus(value string) (JobStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "COMPLETED" {
		normalized = string(JobStatusComplete)
	}
	status := JobStatus(normalized)
	if !status.Valid() {
		return "", invalid(ReasonInvalidStatus, "unknown job status %q", value)
	}
	return status, nil
}

// JobParams carries the inputs used to construct a Job.
type JobParams struct {
	Reference          string
	Description        string
	Amount             Money
	ExpectedEndDate    time.Time
	PercentageComplete *big.Rat
	Status             JobStatus
}

// Job is an immutable schedule milestone.
type Job struct {
	reference          string
	description        string
	amount             Money
	expectedEndDate    time.Time
	percentageComplete *big.Rat
	status             JobStatus
}

// NewJob validates params and returns the milestone. An empty status defaults
// to PENDING and a nil percentage to zero.
func NewJob(params JobParams) (Job, error) {
	reference := norm.NFC.String(strings.TrimSpace(params.Reference))
	if reference == "" {
		return Job{}, invalid(ReasonMissingField, "job reference required")
	}
	if params.Amount.unset() || params.Amount.Currency() == "" {
		return Job{}, invalid(ReasonMissingField, "job %s: amount currency required", reference)
	}
	if params.Amount.Sign() < 0 {
		return Job{}, invalid(ReasonNegativeAmount, "job %s: amount %s is negative", reference, params.Amount)
	}
	if params.ExpectedEndDate.IsZero() {
		return Job{}, invalid(ReasonMissingField, "job %s: expected end date required", reference)
	}
	pct := copyRat(params.PercentageComplete)
	if !percentInRange(pct) {
		return Job{}, invalid(ReasonPercentOutOfRange, "job %s: percentage complete %s outside [0,100]", reference, FormatRat(pct))
	}
	status := params.Status
	if status == "" {
		status = JobStatusPending
	}
	if !status.Valid() {
		return Job{}, invalid(ReasonInvalidStatus, "job %s: unknown status %q", reference, status)
	}
	return Job{
		reference:          reference,
		description:        norm.NFC.String(params.Description),
		amount:             NewMoney(params.Amount.rat(), params.Amount.Currency()),
		expectedEndDate:    truncateDate(params.ExpectedEndDate),
		percentageComplete: pct,
		status:             status,
	}, nil
}

// MustJob is NewJob for fixtures. It panics on invalid params.
func MustJob(params JobParams) Job {
	job, err := NewJob(params)
	if err != nil {
		panic(err)
	}
	return job
}

func percentInRange(pct *big.Rat) bool {
	return pct.Sign() >= 0 && pct.Cmp(ratHundred) <= 0
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
}

func (j Job) Reference() string          { return j.reference }
func (j Job) Description() string        { return j.description }
func (j Job) Amount() Money              { return j.amount }
func (j Job) ExpectedEndDate() time.Time { return j.expectedEndDate }
func (j Job) Status() JobStatus          { return j.status }

// PercentageComplete returns a copy of the completion percentage.
func (j Job) PercentageComplete() *big.Rat { return copyRat(j.percentageComplete) }

// Valuation returns amount * percentageComplete / 100.
func (j Job) Valuation() Money { return j.amount.Percent(j.percentageComplete) }

// Params returns the construction parameters of j.
func (j Job) Params() JobParams {
	return JobParams{
		Reference:          j.reference,
		Description:        j.description,
		Amount:             j.amount,
		ExpectedEndDate:    j.expectedEndDate,
		PercentageComplete: copyRat(j.percentageComplete),
		Status:             j.status,
	}
}

// Equal reports structural equality.
func (j Job) Equal(other Job) bool {
	return j.reference == other.reference &&
		j.description == other.description &&
		j.amount.Equal(other.amount) &&
		j.expectedEndDate.Equal(other.expectedEndDate) &&
		ratOrZero(j.percentageComplete).Cmp(ratOrZero(other.percentageComplete)) == 0 &&
		j.status == other.status
}
