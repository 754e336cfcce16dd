package schedule

import (
	"math/big"

	"github.com/google/uuid"
)

// StateParams carries the inputs used to construct a ScheduleEscrowState.
// A nil LinearID mints a fresh identifier; unset accumulators default to zero
// in the schedule currency.
type StateParams struct {
	LinearID                uuid.UUID
	Employers               []Party
	Contractors             []Party
	ContractSum             Money
	RetentionPercentage     *big.Rat
	AllowPaymentOnAccount   bool
	GrossCumulativeAmount   Money
	RetentionAmount         Money
	NetCumulativeValue      Money
	PreviousCumulativeValue Money
	Jobs                    []Job
}

// ScheduleEscrowState is one immutable version of a multi-party schedule.
type ScheduleEscrowState struct {
	linearID                uuid.UUID
	employers               []Party
	contractors             []Party
	contractSum             Money
	retentionPercentage     *big.Rat
	allowPaymentOnAccount   bool
	grossCumulativeAmount   Money
	retentionAmount         Money
	netCumulativeValue      Money
	previousCumulativeValue Money
	jobs                    []Job
}

// NewScheduleEscrowState validates params and returns a new state version.
// Every failure is a *ValidationError.
func NewScheduleEscrowState(params StateParams) (*ScheduleEscrowState, error) {
	employers, err := sanitizeParties("employers", params.Employers)
	if err != nil {
		return nil, err
	}
	contractors, err := sanitizeParties("contractors", params.Contractors)
	if err != nil {
		return nil, err
	}
	if len(params.Jobs) == 0 {
		return nil, invalid(ReasonEmptySchedule, "schedule requires at least one job")
	}
	jobs := make([]Job, len(params.Jobs))
	seen := make(map[string]struct{}, len(params.Jobs))
	currency := ""
	for i, job := range params.Jobs {
		if job.reference == "" {
			return nil, invalid(ReasonMissingField, "job %d is not initialised", i)
		}
		if _, dup := seen[job.reference]; dup {
			return nil, invalid(ReasonDuplicateReference, "job reference %q repeated", job.reference)
		}
		seen[job.reference] = struct{}{}
		if currency == "" {
			currency = job.amount.Currency()
		} else if job.amount.Currency() != currency {
			return nil, invalid(ReasonCurrencyMismatch, "job %s amount in %s, schedule in %s", job.reference, job.amount.Currency(), currency)
		}
		jobs[i] = job
	}

	if params.ContractSum.unset() {
		return nil, invalid(ReasonMissingField, "contract sum required")
	}
	monies := []struct {
		name  string
		value Money
	}{
		{"contract sum", params.ContractSum},
		{"gross cumulative amount", params.GrossCumulativeAmount},
		{"retention amount", params.RetentionAmount},
		{"net cumulative value", params.NetCumulativeValue},
		{"previous cumulative value", params.PreviousCumulativeValue},
	}
	resolved := make([]Money, len(monies))
	for i, entry := range monies {
		value := entry.value
		if value.unset() {
			value = ZeroMoney(currency)
		}
		if value.Currency() != currency {
			return nil, invalid(ReasonCurrencyMismatch, "%s in %s, schedule in %s", entry.name, value.Currency(), currency)
		}
		resolved[i] = NewMoney(value.rat(), currency)
	}
	contractSum, gross, retention, net, previous := resolved[0], resolved[1], resolved[2], resolved[3], resolved[4]
	if contractSum.Sign() < 0 {
		return nil, invalid(ReasonNegativeAmount, "contract sum %s is negative", contractSum)
	}
	if gross.Sign() < 0 {
		return nil, invalid(ReasonNegativeAmount, "gross cumulative amount %s is negative", gross)
	}
	if retention.Sign() < 0 {
		return nil, invalid(ReasonNegativeAmount, "retention amount %s is negative", retention)
	}
	retentionPct := copyRat(params.RetentionPercentage)
	if !percentInRange(retentionPct) {
		return nil, invalid(ReasonPercentOutOfRange, "retention percentage %s outside [0,100]", FormatRat(retentionPct))
	}

	linearID := params.LinearID
	if linearID == uuid.Nil {
		linearID = uuid.New()
	}
	return &ScheduleEscrowState{
		linearID:                linearID,
		employers:               employers,
		contractors:             contractors,
		contractSum:             contractSum,
		retentionPercentage:     retentionPct,
		allowPaymentOnAccount:   params.AllowPaymentOnAccount,
		grossCumulativeAmount:   gross,
		retentionAmount:         retention,
		netCumulativeValue:      net,
		previousCumulativeValue: previous,
		jobs:                    jobs,
	}, nil
}

func sanitizeParties(role string, parties []Party) ([]Party, error) {
	if len(parties) == 0 {
		return nil, invalid(ReasonEmptyPartySet, "%s must not be empty", role)
	}
	out := make([]Party, 0, len(parties))
	seen := make(map[Party]struct{}, len(parties))
	for _, party := range parties {
		normalized := normalizeParty(party)
		if normalized == "" {
			return nil, invalid(ReasonInvalidParty, "%s contains a blank party", role)
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

// LinearID returns the identifier shared by every version of the schedule.
func (s *ScheduleEscrowState) LinearID() uuid.UUID { return s.linearID }

// Employers returns a copy of the employer set in first-occurrence order.
func (s *ScheduleEscrowState) Employers() []Party { return append([]Party(nil), s.employers...) }

// Contractors returns a copy of the contractor set in first-occurrence order.
func (s *ScheduleEscrowState) Contractors() []Party { return append([]Party(nil), s.contractors...) }

// Participants returns employers followed by contractors without duplicates.
func (s *ScheduleEscrowState) Participants() []Party {
	out := make([]Party, 0, len(s.employers)+len(s.contractors))
	seen := make(map[Party]struct{}, cap(out))
	for _, group := range [][]Party{s.employers, s.contractors} {
		for _, party := range group {
			if _, ok := seen[party]; ok {
				continue
			}
			seen[party] = struct{}{}
			out = append(out, party)
		}
	}
	return out
}

// Currency is the single currency every monetary field is denominated in.
func (s *ScheduleEscrowState) Currency() string { return s.contractSum.Currency() }

func (s *ScheduleEscrowState) ContractSum() Money             { return s.contractSum }
func (s *ScheduleEscrowState) AllowPaymentOnAccount() bool    { return s.allowPaymentOnAccount }
func (s *ScheduleEscrowState) GrossCumulativeAmount() Money   { return s.grossCumulativeAmount }
func (s *ScheduleEscrowState) RetentionAmount() Money         { return s.retentionAmount }
func (s *ScheduleEscrowState) NetCumulativeValue() Money      { return s.netCumulativeValue }
func (s *ScheduleEscrowState) PreviousCumulativeValue() Money { return s.previousCumulativeValue }

// RetentionPercentage returns a copy of the retention percentage.
func (s *ScheduleEscrowState) RetentionPercentage() *big.Rat {
	return copyRat(s.retentionPercentage)
}

// Jobs returns a copy of the ordered job list.
func (s *ScheduleEscrowState) Jobs() []Job { return append([]Job(nil), s.jobs...) }

// JobCount returns the number of milestones.
func (s *ScheduleEscrowState) JobCount() int { return len(s.jobs) }

// Job returns the milestone with the given reference.
func (s *ScheduleEscrowState) Job(reference string) (Job, bool) {
	for _, job := range s.jobs {
		if job.reference == reference {
			return job, true
		}
	}
	return Job{}, false
}

// JobAt returns the milestone at index.
func (s *ScheduleEscrowState) JobAt(index int) (Job, bool) {
	if index < 0 || index >= len(s.jobs) {
		return Job{}, false
	}
	return s.jobs[index], true
}

// Params returns a deep copy of the construction parameters of s.
func (s *ScheduleEscrowState) Params() StateParams {
	return StateParams{
		LinearID:                s.linearID,
		Employers:               s.Employers(),
		Contractors:             s.Contractors(),
		ContractSum:             s.contractSum,
		RetentionPercentage:     s.RetentionPercentage(),
		AllowPaymentOnAccount:   s.allowPaymentOnAccount,
		GrossCumulativeAmount:   s.grossCumulativeAmount,
		RetentionAmount:         s.retentionAmount,
		NetCumulativeValue:      s.netCumulativeValue,
		PreviousCumulativeValue: s.previousCumulativeValue,
		Jobs:                    s.Jobs(),
	}
}

// Equal reports structural equality, including the linear identifier.
func (s *ScheduleEscrowState) Equal(other *ScheduleEscrowState) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.linearID != other.linearID ||
		s.allowPaymentOnAccount != other.allowPaymentOnAccount ||
		!s.contractSum.Equal(other.contractSum) ||
		s.retentionPercentage.Cmp(other.retentionPercentage) != 0 ||
		!s.grossCumulativeAmount.Equal(other.grossCumulativeAmount) ||
		!s.retentionAmount.Equal(other.retentionAmount) ||
		!s.netCumulativeValue.Equal(other.netCumulativeValue) ||
		!s.previousCumulativeValue.Equal(other.previousCumulativeValue) {
		return false
	}
	if !partiesEqual(s.employers, other.employers) || !partiesEqual(s.contractors, other.contractors) {
		return false
	}
	if len(s.jobs) != len(other.jobs) {
		return false
	}
	for i := range s.jobs {
		if !s.jobs[i].Equal(other.jobs[i]) {
			return false
		}
	}
	return true
}

func partiesEqual(a, b []Party) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ExpectedGross recomputes the gross cumulative amount from the job list.
func (s *ScheduleEscrowState) ExpectedGross() Money {
	total := new(big.Rat)
	for _, job := range s.jobs {
		total.Add(total, job.Valuation().rat())
	}
	return NewMoney(total, s.Currency())
}
