package schedule

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestNewJobValidation(t *testing.T) {
	date := testDate(t, "2026-01-15")
	cases := []struct {
		name   string
		params JobParams
		want   Reason
	}{
		{"negative amount", JobParams{Reference: "j", Amount: MustMoney("-1", "GBP"), ExpectedEndDate: date}, ReasonNegativeAmount},
		{"percent above range", JobParams{Reference: "j", Amount: MustMoney("1", "GBP"), ExpectedEndDate: date, PercentageComplete: MustRat("100.01")}, ReasonPercentOutOfRange},
		{"percent below range", JobParams{Reference: "j", Amount: MustMoney("1", "GBP"), ExpectedEndDate: date, PercentageComplete: MustRat("-0.5")}, ReasonPercentOutOfRange},
		{"missing reference", JobParams{Reference: "  ", Amount: MustMoney("1", "GBP"), ExpectedEndDate: date}, ReasonMissingField},
		{"missing currency", JobParams{Reference: "j", Amount: MustMoney("1", ""), ExpectedEndDate: date}, ReasonMissingField},
		{"missing date", JobParams{Reference: "j", Amount: MustMoney("1", "GBP")}, ReasonMissingField},
		{"unknown status", JobParams{Reference: "j", Amount: MustMoney("1", "GBP"), ExpectedEndDate: date, Status: "PAID"}, ReasonInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewJob(tc.params)
			expectValidation(t, err, tc.want)
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestNewJobDefaults(t *testing.T) {
	job := newTestJob(t, " job-1 ", "250.50", "gbp")
	if job.Reference() != "job-1" {
		t.Fatalf("reference not trimmed: %q", job.Reference())
	}
	if job.Status() != JobStatusPending {
		t.Fatalf("expected pending default, got %s", job.Status())
	}
	if job.PercentageComplete().Sign() != 0 {
		t.Fatalf("expected zero percentage")
	}
	if job.Amount().Currency() != "GBP" {
		t.Fatalf("currency not normalised: %s", job.Amount().Currency())
	}
	pct := job.PercentageComplete()
	pct.SetInt64(99)
	if job.PercentageComplete().Sign() != 0 {
		t.Fatalf("accessor leaked internal percentage")
	}
}

func TestStateSingleCurrencySucceeds(t *testing.T) {
	state, err := NewScheduleEscrowState(StateParams{
		Employers:   []Party{employerA},
		Contractors: []Party{contractorA},
		ContractSum: MustMoney("3000", "EUR"),
		Jobs: []Job{
			newTestJob(t, "a", "1000", "EUR"),
			newTestJob(t, "b", "1500", "eur"),
			newTestJob(t, "c", "500", "EUR"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Currency() != "EUR" {
		t.Fatalf("unexpected currency %s", state.Currency())
	}
	if state.LinearID() == uuid.Nil {
		t.Fatalf("expected minted linear id")
	}
	if !state.GrossCumulativeAmount().Equal(ZeroMoney("EUR")) {
		t.Fatalf("expected zero gross default, got %s", state.GrossCumulativeAmount())
	}
}

func TestStateMixedCurrencyFails(t *testing.T) {
	_, err := NewScheduleEscrowState(StateParams{
		Employers:   []Party{employerA},
		Contractors: []Party{contractorA},
		ContractSum: MustMoney("2000", "GBP"),
		Jobs: []Job{
			newTestJob(t, "a", "1000", "GBP"),
			newTestJob(t, "b", "1000", "USD"),
		},
	})
	expectValidation(t, err, ReasonCurrencyMismatch)
}

func TestStateAccumulatorCurrencyMismatch(t *testing.T) {
	_, err := NewScheduleEscrowState(StateParams{
		Employers:             []Party{employerA},
		Contractors:           []Party{contractorA},
		ContractSum:           MustMoney("1000", "GBP"),
		GrossCumulativeAmount: MustMoney("10", "USD"),
		Jobs:                  []Job{newTestJob(t, "a", "1000", "GBP")},
	})
	expectValidation(t, err, ReasonCurrencyMismatch)
}

func TestStateValidation(t *testing.T) {
	job := newTestJob(t, "a", "1000", "GBP")
	base := func() StateParams {
		return StateParams{
			Employers:   []Party{employerA},
			Contractors: []Party{contractorA},
			ContractSum: MustMoney("1000", "GBP"),
			Jobs:        []Job{job},
		}
	}
	cases := []struct {
		name   string
		mutate func(*StateParams)
		want   Reason
	}{
		{"no employers", func(p *StateParams) { p.Employers = nil }, ReasonEmptyPartySet},
		{"no contractors", func(p *StateParams) { p.Contractors = []Party{} }, ReasonEmptyPartySet},
		{"blank party", func(p *StateParams) { p.Employers = []Party{" "} }, ReasonInvalidParty},
		{"no jobs", func(p *StateParams) { p.Jobs = nil }, ReasonEmptySchedule},
		{"duplicate reference", func(p *StateParams) { p.Jobs = []Job{job, job} }, ReasonDuplicateReference},
		{"zero job", func(p *StateParams) { p.Jobs = []Job{{}} }, ReasonMissingField},
		{"missing contract sum", func(p *StateParams) { p.ContractSum = Money{} }, ReasonMissingField},
		{"negative contract sum", func(p *StateParams) { p.ContractSum = MustMoney("-5", "GBP") }, ReasonNegativeAmount},
		{"negative gross", func(p *StateParams) { p.GrossCumulativeAmount = MustMoney("-5", "GBP") }, ReasonNegativeAmount},
		{"retention out of range", func(p *StateParams) { p.RetentionPercentage = MustRat("101") }, ReasonPercentOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base()
			tc.mutate(&params)
			state, err := NewScheduleEscrowState(params)
			if state != nil {
				t.Fatalf("expected no instance on failure")
			}
			expectValidation(t, err, tc.want)
		})
	}
}

func TestStatePartiesCollapseDuplicates(t *testing.T) {
	state, err := NewScheduleEscrowState(StateParams{
		Employers:   []Party{employerB, employerA, " " + employerB},
		Contractors: []Party{contractorA, employerA},
		ContractSum: MustMoney("1000", "GBP"),
		Jobs:        []Job{newTestJob(t, "a", "1000", "GBP")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	employers := state.Employers()
	if len(employers) != 2 || employers[0] != employerB || employers[1] != employerA {
		t.Fatalf("unexpected employers %v", employers)
	}
	participants := state.Participants()
	if len(participants) != 3 {
		t.Fatalf("expected 3 participants, got %v", participants)
	}
	employers[0] = "mutated"
	if state.Employers()[0] != employerB {
		t.Fatalf("accessor leaked internal slice")
	}
}

func TestStateParamsRoundTrip(t *testing.T) {
	origin := newOrigin(t)
	rebuilt, err := NewScheduleEscrowState(origin.Params())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !origin.Equal(rebuilt) {
		t.Fatalf("expected structurally equal state")
	}
}

func TestExpectedGrossSumsJobValuations(t *testing.T) {
	origin := newTwoJobOrigin(t)
	next, err := origin.Copy().
		UpdateJob("job-1", func(b JobBuilder) JobBuilder {
			return b.WithStatus(JobStatusInProgress).WithPercentageComplete(MustRat("1/3"))
		}).
		UpdateJob("job-2", func(b JobBuilder) JobBuilder {
			return b.WithStatus(JobStatusInProgress).WithPercentageComplete(MustRat("10"))
		}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// 1000 x 1/300 + 500 x 10/100 = 10/3 + 50
	got := next.ExpectedGross()
	if got.Currency() != "GBP" || got.Amount().Cmp(MustRat("160/3")) != 0 {
		t.Fatalf("expected gross 160/3 GBP, got %s", got)
	}
	if zero := origin.ExpectedGross(); zero.Amount().Sign() != 0 || zero.Currency() != "GBP" {
		t.Fatalf("expected zero gross, got %s", zero)
	}
}
