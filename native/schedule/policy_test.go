package schedule

import "testing"

func TestDefaultPolicy(t *testing.T) {
	var zero TransitionPolicy
	for _, policy := range []TransitionPolicy{DefaultPolicy(), zero} {
		allowed := [][2]JobStatus{
			{JobStatusPending, JobStatusInProgress},
			{JobStatusPending, JobStatusComplete},
			{JobStatusInProgress, JobStatusDisputed},
			{JobStatusComplete, JobStatusComplete},
		}
		for _, edge := range allowed {
			if !policy.Allows(edge[0], edge[1]) {
				t.Fatalf("expected %s -> %s allowed", edge[0], edge[1])
			}
		}
		denied := [][2]JobStatus{
			{JobStatusInProgress, JobStatusPending},
			{JobStatusComplete, JobStatusInProgress},
			{JobStatusDisputed, JobStatusComplete},
		}
		for _, edge := range denied {
			if policy.Allows(edge[0], edge[1]) {
				t.Fatalf("expected %s -> %s denied", edge[0], edge[1])
			}
		}
		if !policy.Terminal(JobStatusComplete) || !policy.Terminal(JobStatusDisputed) || policy.Terminal(JobStatusPending) {
			t.Fatalf("unexpected terminal statuses")
		}
	}
}

func TestStrictPolicy(t *testing.T) {
	policy := StrictPolicy()
	if policy.Allows(JobStatusPending, JobStatusComplete) {
		t.Fatalf("strict policy must not skip stages")
	}
	edges := policy.Edges()
	got := edges[JobStatusInProgress]
	if len(got) != 2 || got[0] != JobStatusComplete || got[1] != JobStatusDisputed {
		t.Fatalf("unexpected edges %v", got)
	}
}

func TestNewTransitionPolicyRejectsUnknownStatus(t *testing.T) {
	if _, err := NewTransitionPolicy(map[JobStatus][]JobStatus{"PAID": {JobStatusComplete}}); err == nil {
		t.Fatalf("expected unknown source error")
	}
	if _, err := NewTransitionPolicy(map[JobStatus][]JobStatus{JobStatusPending: {"PAID"}}); err == nil {
		t.Fatalf("expected unknown target error")
	}
}
