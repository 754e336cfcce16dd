package events

import "strings"

// Event is a ledger notification about one schedule.
type Event interface {
	EventType() string
	// ScheduleID is the linear id of the schedule the event concerns.
	ScheduleID() string
}

// Emitter broadcasts events to downstream subscribers (websocket streams,
// webhooks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Filter selects events by type and schedule. An empty set matches
// everything on that axis.
type Filter struct {
	Types     map[string]struct{}
	LinearIDs map[string]struct{}
}

// NewFilter builds a filter from lists of event types and linear ids.
func NewFilter(types, linearIDs []string) Filter {
	return Filter{Types: toSet(types), LinearIDs: toSet(linearIDs)}
}

// ParseFilter builds a filter from comma separated lists.
func ParseFilter(types, linearIDs string) Filter {
	return NewFilter(strings.Split(types, ","), strings.Split(linearIDs, ","))
}

// Match reports whether an event of eventType about linearID passes f.
func (f Filter) Match(eventType, linearID string) bool {
	if len(f.Types) > 0 {
		if _, ok := f.Types[strings.ToLower(eventType)]; !ok {
			return false
		}
	}
	if len(f.LinearIDs) > 0 {
		if _, ok := f.LinearIDs[strings.ToLower(linearID)]; !ok {
			return false
		}
	}
	return true
}

// MatchEvent is Match applied to evt.
func (f Filter) MatchEvent(evt Event) bool {
	return evt != nil && f.Match(evt.EventType(), evt.ScheduleID())
}

func toSet(values []string) map[string]struct{} {
	var out map[string]struct{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]struct{})
		}
		out[v] = struct{}{}
	}
	return out
}
