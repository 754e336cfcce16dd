package events

import (
	"encoding/hex"
	"strconv"

	"jctledger/core/types"
)

const (
	TypeScheduleIssued       = "schedule.issued"
	TypeScheduleTransitioned = "schedule.transitioned"
	TypeScheduleRejected     = "schedule.rejected"
)

type ScheduleIssued struct {
	LinearID     string
	Sequence     uint64
	Hash         [32]byte
	Currency     string
	ContractSum  string
	Participants int
	Jobs         int
}

func (ScheduleIssued) EventType() string { return TypeScheduleIssued }

func (e ScheduleIssued) ScheduleID() string { return e.LinearID }

func (e ScheduleIssued) Event() *types.ScheduleEvent {
	return &types.ScheduleEvent{
		Type:     TypeScheduleIssued,
		LinearID: e.LinearID,
		Sequence: sequence(e.Sequence),
		Attributes: map[string]string{
			"hash":         "0x" + hex.EncodeToString(e.Hash[:]),
			"currency":     normalizeCurrency(e.Currency),
			"contractSum":  e.ContractSum,
			"participants": strconv.Itoa(e.Participants),
			"jobs":         strconv.Itoa(e.Jobs),
		},
	}
}

type ScheduleTransitioned struct {
	LinearID string
	Sequence uint64
	Hash     [32]byte
	Command  string
	JobIndex int
	Gross    string
	Net      string
}

func (ScheduleTransitioned) EventType() string { return TypeScheduleTransitioned }

func (e ScheduleTransitioned) ScheduleID() string { return e.LinearID }

func (e ScheduleTransitioned) Event() *types.ScheduleEvent {
	return &types.ScheduleEvent{
		Type:     TypeScheduleTransitioned,
		LinearID: e.LinearID,
		Sequence: sequence(e.Sequence),
		Attributes: map[string]string{
			"hash":     "0x" + hex.EncodeToString(e.Hash[:]),
			"command":  e.Command,
			"jobIndex": strconv.Itoa(e.JobIndex),
			"gross":    e.Gross,
			"net":      e.Net,
		},
	}
}

type ScheduleRejected struct {
	LinearID string
	Command  string
	Reason   string
	Message  string
}

func (ScheduleRejected) EventType() string { return TypeScheduleRejected }

func (e ScheduleRejected) ScheduleID() string { return e.LinearID }

func (e ScheduleRejected) Event() *types.ScheduleEvent {
	attrs := map[string]string{
		"command": e.Command,
		"reason":  e.Reason,
	}
	if e.Message != "" {
		attrs["message"] = e.Message
	}
	return &types.ScheduleEvent{Type: TypeScheduleRejected, LinearID: e.LinearID, Attributes: attrs}
}

// Payload converts evt into its wire form.
func Payload(evt Event) *types.ScheduleEvent {
	if evt == nil {
		return nil
	}
	if provider, ok := evt.(interface{ Event() *types.ScheduleEvent }); ok {
		if payload := provider.Event(); payload != nil {
			return payload
		}
	}
	return &types.ScheduleEvent{Type: evt.EventType(), LinearID: evt.ScheduleID(), Attributes: map[string]string{}}
}

func sequence(seq uint64) *uint64 { return &seq }
