package types

// ScheduleEvent is the wire form of a ledger notification about one schedule.
// Sequence is absent for proposals that were rejected before a version was
// recorded.
type ScheduleEvent struct {
	Type       string            `json:"type"`
	LinearID   string            `json:"linearId"`
	Sequence   *uint64           `json:"sequence,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

// Recorded reports whether the event refers to a stored version.
func (e *ScheduleEvent) Recorded() bool { return e != nil && e.Sequence != nil }

// Clone returns a deep copy so subscribers cannot alter each other's view.
func (e *ScheduleEvent) Clone() *ScheduleEvent {
	if e == nil {
		return nil
	}
	out := &ScheduleEvent{Type: e.Type, LinearID: e.LinearID}
	if e.Sequence != nil {
		seq := *e.Sequence
		out.Sequence = &seq
	}
	out.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	return out
}
