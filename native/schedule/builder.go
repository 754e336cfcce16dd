package schedule

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// StateBuilder accumulates overrides on top of an origin state. It is a plain
// value: every With method returns a new builder and leaves the receiver
// untouched, so builders can be forked freely.
type StateBuilder struct {
	params      StateParams
	originGross Money
	originNet   Money
	hasOrigin   bool
	err         error
}

// NewStateBuilder starts a builder for a brand new schedule.
func NewStateBuilder() StateBuilder { return StateBuilder{} }

// Copy starts a builder whose origin is s.
func (s *ScheduleEscrowState) Copy() StateBuilder {
	return StateBuilder{
		params:      s.Params(),
		originGross: s.grossCumulativeAmount,
		originNet:   s.netCumulativeValue,
		hasOrigin:   true,
	}
}

func (b StateBuilder) WithLinearID(id uuid.UUID) StateBuilder {
	b.params.LinearID = id
	return b
}

func (b StateBuilder) WithEmployers(parties ...Party) StateBuilder {
	b.params.Employers = append([]Party(nil), parties...)
	return b
}

func (b StateBuilder) WithContractors(parties ...Party) StateBuilder {
	b.params.Contractors = append([]Party(nil), parties...)
	return b
}

func (b StateBuilder) WithContractSum(m Money) StateBuilder {
	b.params.ContractSum = m
	return b
}

func (b StateBuilder) WithRetentionPercentage(pct *big.Rat) StateBuilder {
	b.params.RetentionPercentage = copyRat(pct)
	return b
}

func (b StateBuilder) WithAllowPaymentOnAccount(allow bool) StateBuilder {
	b.params.AllowPaymentOnAccount = allow
	return b
}

func (b StateBuilder) WithGrossCumulativeAmount(m Money) StateBuilder {
	b.params.GrossCumulativeAmount = m
	return b
}

func (b StateBuilder) WithRetentionAmount(m Money) StateBuilder {
	b.params.RetentionAmount = m
	return b
}

func (b StateBuilder) WithNetCumulativeValue(m Money) StateBuilder {
	b.params.NetCumulativeValue = m
	return b
}

func (b StateBuilder) WithPreviousCumulativeValue(m Money) StateBuilder {
	b.params.PreviousCumulativeValue = m
	return b
}

// WithJobs replaces the whole job list.
func (b StateBuilder) WithJobs(jobs ...Job) StateBuilder {
	b.params.Jobs = append([]Job(nil), jobs...)
	return b
}

// WithJob replaces the job at index.
func (b StateBuilder) WithJob(index int, job Job) StateBuilder {
	if index < 0 || index >= len(b.params.Jobs) {
		if b.err == nil {
			b.err = invalid(ReasonMissingField, "no job at index %d", index)
		}
		return b
	}
	jobs := append([]Job(nil), b.params.Jobs...)
	jobs[index] = job
	b.params.Jobs = jobs
	return b
}

// UpdateJob applies fn to a builder for the job with the given reference and
// stores the result in place.
func (b StateBuilder) UpdateJob(reference string, fn func(JobBuilder) JobBuilder) StateBuilder {
	for i, job := range b.params.Jobs {
		if job.reference != reference {
			continue
		}
		updated, err := fn(job.Copy()).Build()
		if err != nil {
			if b.err == nil {
				b.err = err
			}
			return b
		}
		return b.WithJob(i, updated)
	}
	if b.err == nil {
		b.err = invalid(ReasonMissingField, "no job with reference %q", reference)
	}
	return b
}

// Revalued recomputes the accumulators from the current job list and
// retention percentage. When the gross amount moves away from the origin's,
// the previous cumulative value becomes the origin's net value.
func (b StateBuilder) Revalued() StateBuilder {
	if len(b.params.Jobs) == 0 {
		return b
	}
	currency := b.params.Jobs[0].amount.Currency()
	gross := ZeroMoney(currency)
	for _, job := range b.params.Jobs {
		next, err := gross.Add(job.Valuation())
		if err != nil {
			if b.err == nil {
				b.err = invalid(ReasonCurrencyMismatch, "%v", err)
			}
			return b
		}
		gross = next
	}
	retention := gross.Percent(b.params.RetentionPercentage)
	net, _ := gross.Sub(retention)
	b.params.GrossCumulativeAmount = gross
	b.params.RetentionAmount = retention
	b.params.NetCumulativeValue = net
	if b.hasOrigin && !gross.Equal(b.originGross) {
		b.params.PreviousCumulativeValue = b.originNet
	}
	return b
}

// Build validates the accumulated parameters. It can be called repeatedly and
// each call returns an independent instance.
func (b StateBuilder) Build() (*ScheduleEscrowState, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewScheduleEscrowState(b.params)
}

// JobBuilder is the per-milestone counterpart of StateBuilder.
type JobBuilder struct {
	params JobParams
}

// Copy starts a builder whose origin is j.
func (j Job) Copy() JobBuilder { return JobBuilder{params: j.Params()} }

func (b JobBuilder) WithReference(reference string) JobBuilder {
	b.params.Reference = reference
	return b
}

func (b JobBuilder) WithDescription(description string) JobBuilder {
	b.params.Description = description
	return b
}

func (b JobBuilder) WithAmount(m Money) JobBuilder {
	b.params.Amount = m
	return b
}

func (b JobBuilder) WithExpectedEndDate(date time.Time) JobBuilder {
	b.params.ExpectedEndDate = date
	return b
}

func (b JobBuilder) WithPercentageComplete(pct *big.Rat) JobBuilder {
	b.params.PercentageComplete = copyRat(pct)
	return b
}

func (b JobBuilder) WithStatus(status JobStatus) JobBuilder {
	b.params.Status = status
	return b
}

// Build validates the accumulated parameters.
func (b JobBuilder) Build() (Job, error) { return NewJob(b.params) }
