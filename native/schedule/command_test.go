package schedule

import (
	"encoding/json"
	"testing"
)

func newTwoJobOrigin(t *testing.T) *ScheduleEscrowState {
	t.Helper()
	state, err := NewScheduleEscrowState(StateParams{
		Employers:           []Party{employerA, employerB},
		Contractors:         []Party{contractorA},
		ContractSum:         MustMoney("1500", "GBP"),
		RetentionPercentage: MustRat("5"),
		Jobs: []Job{
			newTestJob(t, "job-1", "1000", "GBP"),
			newTestJob(t, "job-2", "500", "GBP"),
		},
	})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return state
}

func mutate(t *testing.T, origin *ScheduleEscrowState, ref string, fn func(JobBuilder) JobBuilder) *ScheduleEscrowState {
	t.Helper()
	next, err := origin.Copy().UpdateJob(ref, fn).Revalued().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return next
}

func TestVerifyIssuance(t *testing.T) {
	origin := newTwoJobOrigin(t)
	if r := VerifyIssuance(origin, allParties()); r != nil {
		t.Fatalf("expected issuance accepted, got %v", r)
	}
	expectReason(t, VerifyIssuance(origin, []Party{employerA, contractorA}), ReasonMissingAuthorization)
	expectReason(t, Verify(Command{Type: CommandIssue}, origin, origin, allParties()), ReasonInvalidCommand)

	overlapping, err := origin.Copy().WithContractors(contractorA, employerA).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	expectReason(t, VerifyIssuance(overlapping, allParties()), ReasonInvalidIssuance)

	started := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder { return b.WithStatus(JobStatusInProgress) })
	expectReason(t, VerifyIssuance(started, allParties()), ReasonInvalidIssuance)

	free, err := origin.Copy().WithContractSum(ZeroMoney("GBP")).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	expectReason(t, VerifyIssuance(free, allParties()), ReasonInvalidIssuance)
}

func TestVerifyStartJob(t *testing.T) {
	origin := newTwoJobOrigin(t)
	started := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder { return b.WithStatus(JobStatusInProgress) })
	if r := Verify(Command{Type: CommandStartJob, JobIndex: 0}, origin, started, allParties()); r != nil {
		t.Fatalf("expected start accepted, got %v", r)
	}
	expectReason(t, Verify(Command{Type: CommandStartJob, JobIndex: 1}, origin, started, allParties()), ReasonUnexpectedModification)
	expectReason(t, Verify(Command{Type: CommandStartJob, JobIndex: 7}, origin, started, allParties()), ReasonInvalidCommand)

	renamed := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder {
		return b.WithStatus(JobStatusInProgress).WithDescription("changed")
	})
	expectReason(t, Verify(Command{Type: CommandStartJob}, origin, renamed, allParties()), ReasonUnexpectedModification)
}

func TestVerifyStartJobWithFirstValuation(t *testing.T) {
	origin := newOrigin(t)
	halfway := progressed(t, origin, JobStatusInProgress, "50")
	if r := Validate(origin, halfway, allParties()); r != nil {
		t.Fatalf("expected generic validation accepted, got %v", r)
	}
	if r := Verify(Command{Type: CommandStartJob}, origin, halfway, allParties()); r != nil {
		t.Fatalf("expected start with valuation accepted, got %v", r)
	}
	if got := halfway.GrossCumulativeAmount().String(); got != "500 GBP" {
		t.Fatalf("gross %s", got)
	}
	if got := halfway.RetentionAmount().String(); got != "50 GBP" {
		t.Fatalf("retention %s", got)
	}
	if got := halfway.NetCumulativeValue().String(); got != "450 GBP" {
		t.Fatalf("net %s", got)
	}

	// The valuation still has to be consistent and the status still has to
	// move to IN_PROGRESS.
	stale, err := halfway.Copy().WithGrossCumulativeAmount(MustMoney("400", "GBP")).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	expectReason(t, Verify(Command{Type: CommandStartJob}, origin, stale, allParties()), ReasonValuationMismatch)
	valuedOnly := progressed(t, origin, JobStatusPending, "0")
	expectReason(t, Verify(Command{Type: CommandStartJob}, origin, valuedOnly, allParties()), ReasonUnexpectedModification)
}

func TestVerifyDeclareCompleteAndDispute(t *testing.T) {
	origin := mutate(t, newTwoJobOrigin(t), "job-1", func(b JobBuilder) JobBuilder {
		return b.WithStatus(JobStatusInProgress).WithPercentageComplete(MustRat("40"))
	})
	complete := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder {
		return b.WithStatus(JobStatusComplete).WithPercentageComplete(MustRat("100")).WithDescription("groundworks, surveyor sign-off attached")
	})
	if r := Verify(Command{Type: CommandDeclareComplete}, origin, complete, allParties()); r != nil {
		t.Fatalf("expected completion accepted, got %v", r)
	}

	partial := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder {
		return b.WithStatus(JobStatusComplete).WithPercentageComplete(MustRat("90"))
	})
	expectReason(t, Verify(Command{Type: CommandDeclareComplete}, origin, partial, allParties()), ReasonUnexpectedModification)

	disputed := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder { return b.WithStatus(JobStatusDisputed) })
	if r := Verify(Command{Type: CommandDisputeJob}, origin, disputed, allParties()); r != nil {
		t.Fatalf("expected dispute accepted, got %v", r)
	}
	expectReason(t, Verify(Command{Type: CommandDisputeJob, JobIndex: 1}, origin,
		mutate(t, origin, "job-2", func(b JobBuilder) JobBuilder { return b.WithStatus(JobStatusDisputed) }),
		allParties()), ReasonIllegalJobTransition)
}

func TestVerifyRecordValuation(t *testing.T) {
	origin := mutate(t, newTwoJobOrigin(t), "job-2", func(b JobBuilder) JobBuilder { return b.WithStatus(JobStatusInProgress) })
	valued := mutate(t, origin, "job-2", func(b JobBuilder) JobBuilder { return b.WithPercentageComplete(MustRat("25")) })
	if r := Verify(Command{Type: CommandRecordValuation, JobIndex: 1}, origin, valued, allParties()); r != nil {
		t.Fatalf("expected valuation accepted, got %v", r)
	}
	unlinked, err := valued.Copy().WithPreviousCumulativeValue(MustMoney("1", "GBP")).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	expectReason(t, Verify(Command{Type: CommandRecordValuation, JobIndex: 1}, origin, unlinked, allParties()), ReasonPreviousValueMismatch)

	resized, err := valued.Copy().WithRetentionPercentage(MustRat("0")).Revalued().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	expectReason(t, Verify(Command{Type: CommandRecordValuation, JobIndex: 1}, origin, resized, allParties()), ReasonUnexpectedModification)
}

func TestVerifyAmendments(t *testing.T) {
	origin := newTwoJobOrigin(t)
	amended := mutate(t, origin, "job-2", func(b JobBuilder) JobBuilder { return b.WithAmount(MustMoney("650", "GBP")) })
	cmd := Command{Type: CommandAmendAmount, JobIndex: 1, Amount: MustMoney("650", "GBP")}
	if r := Verify(cmd, origin, amended, allParties()); r != nil {
		t.Fatalf("expected amount amendment accepted, got %v", r)
	}
	cmd.Amount = MustMoney("600", "GBP")
	expectReason(t, Verify(cmd, origin, amended, allParties()), ReasonUnexpectedModification)

	delayed := mutate(t, origin, "job-1", func(b JobBuilder) JobBuilder {
		return b.WithExpectedEndDate(testDate(t, "2026-06-30"))
	})
	dateCmd := Command{Type: CommandAmendEndDate, JobIndex: 0, EndDate: testDate(t, "2026-06-30")}
	if r := Verify(dateCmd, origin, delayed, allParties()); r != nil {
		t.Fatalf("expected date amendment accepted, got %v", r)
	}
	expectReason(t, Verify(dateCmd, origin, origin, allParties()), ReasonUnexpectedModification)
	expectReason(t, Verify(Command{Type: CommandAmendEndDate}, origin, origin, allParties()), ReasonInvalidCommand)
}

func TestCommandJSON(t *testing.T) {
	date, _ := ParseDate("2026-06-30")
	cmd := Command{Type: CommandAmendEndDate, JobIndex: 2, EndDate: date}
	raw, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"AMEND_END_DATE","jobIndex":2,"endDate":"2026-06-30"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
	var decoded Command
	if err := json.Unmarshal([]byte(`{"type":"record_valuation","jobIndex":1}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != CommandRecordValuation || decoded.JobIndex != 1 {
		t.Fatalf("unexpected command %+v", decoded)
	}
	if err := json.Unmarshal([]byte(`{"type":"pay"}`), &decoded); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
