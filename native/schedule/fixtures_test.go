package schedule

import (
	"testing"
	"time"
)

var (
	employerA   = Party("jct1employer-a")
	employerB   = Party("jct1employer-b")
	contractorA = Party("jct1contractor-a")
)

func testDate(t *testing.T, value string) time.Time {
	t.Helper()
	date, err := ParseDate(value)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return date
}

func newTestJob(t *testing.T, reference, amount, currency string) Job {
	t.Helper()
	job, err := NewJob(JobParams{
		Reference:       reference,
		Description:     "groundworks",
		Amount:          MustMoney(amount, currency),
		ExpectedEndDate: testDate(t, "2026-03-31"),
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

// newOrigin returns a freshly issued schedule with one 1000 GBP job and 10%
// retention, owned by two employers and one contractor.
func newOrigin(t *testing.T) *ScheduleEscrowState {
	t.Helper()
	state, err := NewScheduleEscrowState(StateParams{
		Employers:           []Party{employerA, employerB},
		Contractors:         []Party{contractorA},
		ContractSum:         MustMoney("1000", "GBP"),
		RetentionPercentage: MustRat("10"),
		Jobs:                []Job{newTestJob(t, "job-1", "1000", "GBP")},
	})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return state
}

func allParties() []Party { return []Party{employerA, employerB, contractorA} }

// progressed moves job-1 to the given status and percentage with consistent
// accumulators.
func progressed(t *testing.T, origin *ScheduleEscrowState, status JobStatus, pct string) *ScheduleEscrowState {
	t.Helper()
	next, err := origin.Copy().
		UpdateJob("job-1", func(b JobBuilder) JobBuilder {
			return b.WithStatus(status).WithPercentageComplete(MustRat(pct))
		}).
		Revalued().
		Build()
	if err != nil {
		t.Fatalf("build progressed state: %v", err)
	}
	return next
}

func expectReason(t *testing.T, r *Rejection, want Reason) {
	t.Helper()
	if r == nil {
		t.Fatalf("expected rejection %s, got accepted", want)
	}
	if r.Reason != want {
		t.Fatalf("expected rejection %s, got %s (%s)", want, r.Reason, r.Message)
	}
}

func expectValidation(t *testing.T, err error, want Reason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error %s", want)
	}
	if got := ReasonOf(err); got != want {
		t.Fatalf("expected validation error %s, got %s (%v)", want, got, err)
	}
}
