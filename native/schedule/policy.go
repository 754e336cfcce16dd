package schedule

import (
	"fmt"
	"sort"
)

// TransitionPolicy is the directed graph of permitted job status changes.
// Staying in the same status is always permitted. The zero value behaves as
// DefaultPolicy.
type TransitionPolicy struct {
	edges map[JobStatus]map[JobStatus]struct{}
}

// NewTransitionPolicy builds a policy from an adjacency list. Unknown statuses
// are rejected.
func NewTransitionPolicy(edges map[JobStatus][]JobStatus) (TransitionPolicy, error) {
	graph := make(map[JobStatus]map[JobStatus]struct{}, len(edges))
	for from, targets := range edges {
		if !from.Valid() {
			return TransitionPolicy{}, fmt.Errorf("transition policy: unknown status %q", from)
		}
		if _, ok := graph[from]; !ok {
			graph[from] = make(map[JobStatus]struct{}, len(targets))
		}
		for _, to := range targets {
			if !to.Valid() {
				return TransitionPolicy{}, fmt.Errorf("transition policy: unknown status %q", to)
			}
			if to == from {
				continue
			}
			graph[from][to] = struct{}{}
		}
	}
	return TransitionPolicy{edges: graph}, nil
}

func mustPolicy(edges map[JobStatus][]JobStatus) TransitionPolicy {
	policy, err := NewTransitionPolicy(edges)
	if err != nil {
		panic(err)
	}
	return policy
}

// StrictPolicy permits only single steps along
// PENDING -> IN_PROGRESS -> {COMPLETE, DISPUTED}.
func StrictPolicy() TransitionPolicy {
	return mustPolicy(map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusInProgress},
		JobStatusInProgress: {JobStatusComplete, JobStatusDisputed},
	})
}

// DefaultPolicy is the forward closure of StrictPolicy: a job may skip
// intermediate stages but never leaves COMPLETE or DISPUTED.
func DefaultPolicy() TransitionPolicy {
	return mustPolicy(map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusInProgress, JobStatusComplete, JobStatusDisputed},
		JobStatusInProgress: {JobStatusComplete, JobStatusDisputed},
	})
}

func (p TransitionPolicy) graph() map[JobStatus]map[JobStatus]struct{} {
	if p.edges == nil {
		return DefaultPolicy().edges
	}
	return p.edges
}

// Allows reports whether a job may move from one status to another.
func (p TransitionPolicy) Allows(from, to JobStatus) bool {
	if from == to {
		return true
	}
	_, ok := p.graph()[from][to]
	return ok
}

// Terminal reports whether no transition leaves status.
func (p TransitionPolicy) Terminal(status JobStatus) bool {
	return len(p.graph()[status]) == 0
}

// Edges returns the adjacency list in lifecycle order.
func (p TransitionPolicy) Edges() map[JobStatus][]JobStatus {
	graph := p.graph()
	out := make(map[JobStatus][]JobStatus, len(graph))
	order := make(map[JobStatus]int)
	for i, status := range JobStatuses() {
		order[status] = i
	}
	for from, targets := range graph {
		list := make([]JobStatus, 0, len(targets))
		for to := range targets {
			list = append(list, to)
		}
		sort.Slice(list, func(i, j int) bool { return order[list[i]] < order[list[j]] })
		out[from] = list
	}
	return out
}
