package events

import (
	"testing"
	"time"
)

func TestScheduleIssuedEvent(t *testing.T) {
	evt := ScheduleIssued{
		LinearID:     "5f1c",
		Sequence:     0,
		Hash:         [32]byte{0xab},
		Currency:     " gbp ",
		ContractSum:  "1000",
		Participants: 3,
		Jobs:         2,
	}.Event()
	if evt.Type != TypeScheduleIssued {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["currency"] != "GBP" {
		t.Fatalf("unexpected currency attr: %s", evt.Attributes["currency"])
	}
	if evt.Attributes["participants"] != "3" || evt.Attributes["jobs"] != "2" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["hash"][:4] != "0xab" {
		t.Fatalf("unexpected hash attr: %s", evt.Attributes["hash"])
	}
	if evt.LinearID != "5f1c" || !evt.Recorded() || *evt.Sequence != 0 {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
}

func TestScheduleRejectedOmitsEmptyMessage(t *testing.T) {
	evt := ScheduleRejected{LinearID: "x", Command: "START_JOB", Reason: "MISSING_AUTHORIZATION"}.Event()
	if _, ok := evt.Attributes["message"]; ok {
		t.Fatalf("expected message attribute to be omitted")
	}
	if evt.Attributes["reason"] != "MISSING_AUTHORIZATION" {
		t.Fatalf("unexpected reason attr: %s", evt.Attributes["reason"])
	}
	if evt.Recorded() || evt.LinearID != "x" {
		t.Fatalf("rejections are not recorded versions: %+v", evt)
	}
}

func TestHubFanout(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe(4)
	second, cancelSecond := hub.Subscribe(1)
	defer cancelFirst()

	hub.Emit(ScheduleTransitioned{LinearID: "a", Sequence: 1, Command: "START_JOB"})
	hub.Emit(ScheduleTransitioned{LinearID: "a", Sequence: 2, Command: "RECORD_VALUATION"})

	for i, want := range []uint64{1, 2} {
		select {
		case evt := <-first:
			if *evt.Sequence != want {
				t.Fatalf("event %d: unexpected sequence %d", i, *evt.Sequence)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if evt := <-second; *evt.Sequence != 1 {
		t.Fatalf("slow subscriber got %d", *evt.Sequence)
	}
	if hub.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", hub.Dropped())
	}

	cancelSecond()
	cancelSecond()
	if _, ok := <-second; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	hub.Emit(ScheduleRejected{LinearID: "a"})
}

func TestFanoutSkipsNil(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()
	Fanout{nil, NoopEmitter{}, hub}.Emit(ScheduleRejected{LinearID: "b", Reason: "POLICY_VIOLATION"})
	if evt := <-ch; evt.Type != TypeScheduleRejected {
		t.Fatalf("unexpected event %s", evt.Type)
	}
}

func TestFilterMatch(t *testing.T) {
	all := ParseFilter("", "")
	if !all.Match(TypeScheduleRejected, "anything") {
		t.Fatalf("empty filter should match everything")
	}
	f := ParseFilter(" schedule.issued, SCHEDULE.TRANSITIONED ,", "7F1C,")
	cases := []struct {
		eventType, linearID string
		want                bool
	}{
		{TypeScheduleIssued, "7f1c", true},
		{TypeScheduleTransitioned, "7F1C", true},
		{TypeScheduleRejected, "7f1c", false},
		{TypeScheduleIssued, "other", false},
	}
	for _, tc := range cases {
		if got := f.Match(tc.eventType, tc.linearID); got != tc.want {
			t.Fatalf("Match(%s, %s) = %v, want %v", tc.eventType, tc.linearID, got, tc.want)
		}
	}
	if f.MatchEvent(nil) {
		t.Fatalf("nil events never match")
	}
}

func TestHubSubscribeFiltered(t *testing.T) {
	hub := NewHub()
	watched, cancel := hub.SubscribeFiltered(4, NewFilter(nil, []string{"b"}))
	defer cancel()
	everything, cancelAll := hub.Subscribe(4)
	defer cancelAll()

	hub.Emit(ScheduleIssued{LinearID: "a"})
	hub.Emit(ScheduleIssued{LinearID: "b", Sequence: 0})
	hub.Emit(ScheduleRejected{LinearID: "b", Reason: "VALUATION_MISMATCH"})

	if len(everything) != 3 {
		t.Fatalf("unfiltered subscriber got %d events", len(everything))
	}
	if len(watched) != 2 {
		t.Fatalf("filtered subscriber got %d events", len(watched))
	}
	first := <-watched
	first.Attributes["currency"] = "EUR"
	if other := <-everything; other.LinearID != "a" {
		t.Fatalf("unexpected first event %+v", other)
	}
	if second := <-everything; second.Attributes["currency"] == "EUR" {
		t.Fatalf("subscribers share event maps")
	}
	if hub.Dropped() != 0 {
		t.Fatalf("no deliveries should be dropped, got %d", hub.Dropped())
	}
}
