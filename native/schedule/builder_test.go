package schedule

import (
	"testing"

	"github.com/google/uuid"
)

func TestBuildWithoutOverridesEqualsOrigin(t *testing.T) {
	origin := newOrigin(t)
	builder := origin.Copy()
	first, err := builder.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := builder.Build()
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !first.Equal(origin) || !second.Equal(origin) {
		t.Fatalf("expected builds to equal origin")
	}
	if first == second {
		t.Fatalf("expected independent instances")
	}
}

func TestBuilderDoesNotMutateOrigin(t *testing.T) {
	origin := newOrigin(t)
	snapshot, _ := NewScheduleEscrowState(origin.Params())
	_, err := origin.Copy().
		WithRetentionPercentage(MustRat("5")).
		WithEmployers(employerA).
		UpdateJob("job-1", func(b JobBuilder) JobBuilder { return b.WithPercentageComplete(MustRat("40")) }).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !origin.Equal(snapshot) {
		t.Fatalf("origin mutated by builder")
	}
}

func TestBuilderForksAreIndependent(t *testing.T) {
	base := newOrigin(t).Copy()
	left := base.WithRetentionPercentage(MustRat("3"))
	right := base.WithRetentionPercentage(MustRat("7"))
	l, err := left.Build()
	if err != nil {
		t.Fatalf("left: %v", err)
	}
	r, err := right.Build()
	if err != nil {
		t.Fatalf("right: %v", err)
	}
	if l.RetentionPercentage().Cmp(MustRat("3")) != 0 || r.RetentionPercentage().Cmp(MustRat("7")) != 0 {
		t.Fatalf("forked builders interfered: %s %s", FormatRat(l.RetentionPercentage()), FormatRat(r.RetentionPercentage()))
	}
	b, err := base.Build()
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	if b.RetentionPercentage().Cmp(MustRat("10")) != 0 {
		t.Fatalf("base builder changed by fork")
	}
}

func TestBuilderRevalidatesOnBuild(t *testing.T) {
	_, err := newOrigin(t).Copy().WithContractSum(MustMoney("1000", "USD")).Build()
	expectValidation(t, err, ReasonCurrencyMismatch)

	_, err = newOrigin(t).Copy().UpdateJob("missing", func(b JobBuilder) JobBuilder { return b }).Build()
	expectValidation(t, err, ReasonMissingField)

	_, err = newOrigin(t).Copy().WithJob(4, Job{}).Build()
	expectValidation(t, err, ReasonMissingField)
}

func TestBuilderPreservesLinearID(t *testing.T) {
	origin := newOrigin(t)
	next := progressed(t, origin, JobStatusInProgress, "25")
	if next.LinearID() != origin.LinearID() {
		t.Fatalf("linear id changed")
	}
	fresh, err := NewStateBuilder().
		WithEmployers(employerA).
		WithContractors(contractorA).
		WithContractSum(MustMoney("10", "GBP")).
		WithJobs(newTestJob(t, "x", "10", "GBP")).
		Build()
	if err != nil {
		t.Fatalf("fresh build: %v", err)
	}
	if fresh.LinearID() == uuid.Nil || fresh.LinearID() == origin.LinearID() {
		t.Fatalf("expected new linear id")
	}
}

func TestRevaluedComputesAccumulators(t *testing.T) {
	origin := newOrigin(t)
	next := progressed(t, origin, JobStatusInProgress, "50")
	if !next.GrossCumulativeAmount().Equal(MustMoney("500", "GBP")) {
		t.Fatalf("gross = %s", next.GrossCumulativeAmount())
	}
	if !next.RetentionAmount().Equal(MustMoney("50", "GBP")) {
		t.Fatalf("retention = %s", next.RetentionAmount())
	}
	if !next.NetCumulativeValue().Equal(MustMoney("450", "GBP")) {
		t.Fatalf("net = %s", next.NetCumulativeValue())
	}
	if !next.PreviousCumulativeValue().Equal(origin.NetCumulativeValue()) {
		t.Fatalf("previous = %s", next.PreviousCumulativeValue())
	}
}

func TestJobBuilder(t *testing.T) {
	job := newTestJob(t, "j", "100", "GBP")
	updated, err := job.Copy().WithStatus(JobStatusInProgress).WithDescription("updated").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if updated.Status() != JobStatusInProgress || updated.Description() != "updated" {
		t.Fatalf("overrides not applied")
	}
	if job.Status() != JobStatusPending {
		t.Fatalf("origin job mutated")
	}
	same, err := job.Copy().Build()
	if err != nil || !same.Equal(job) {
		t.Fatalf("expected equal job, err=%v", err)
	}
	if _, err := job.Copy().WithPercentageComplete(MustRat("150")).Build(); ReasonOf(err) != ReasonPercentOutOfRange {
		t.Fatalf("expected percent validation, got %v", err)
	}
}
