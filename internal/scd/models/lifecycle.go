package models

import (
	"sort"
	"strings"

	e "github.com/gartstein/scd/internal/scd/errors"
)

// Lifecycle is a closed set of states with a fixed adjacency set of legal
// transitions. A state never transitions to itself.
type Lifecycle[S ~string] struct {
	initial []S
	edges   map[S]map[S]struct{}
}

func newLifecycle[S ~string](initial []S, edges map[S][]S) *Lifecycle[S] {
	l := &Lifecycle[S]{initial: initial, edges: make(map[S]map[S]struct{}, len(edges))}
	for from, targets := range edges {
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			if to != from {
				set[to] = struct{}{}
			}
		}
		l.edges[from] = set
	}
	return l
}

// States returns every state, sorted.
func (l *Lifecycle[S]) States() []S {
	out := make([]S, 0, len(l.edges))
	for s := range l.edges {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Initial returns the states a new chain may start in.
func (l *Lifecycle[S]) Initial() []S {
	return append([]S(nil), l.initial...)
}

// Allowed returns the legal targets from s, sorted.
func (l *Lifecycle[S]) Allowed(from S) []S {
	out := make([]S, 0, len(l.edges[from]))
	for s := range l.edges[from] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Lifecycle[S]) CanTransition(from, to S) bool {
	_, ok := l.edges[from][to]
	return ok
}

// ValidateTransition returns a *errors.TransitionError when from cannot move to to.
func (l *Lifecycle[S]) ValidateTransition(from, to S) error {
	if l.CanTransition(from, to) {
		return nil
	}
	return &e.TransitionError{From: string(from), To: string(to)}
}

// Parse maps a wire value onto a state. Matching ignores case and treats
// "_" like "-", so "NOT_PAID" and "not-paid" are the same state.
func (l *Lifecycle[S]) Parse(raw string) (S, bool) {
	norm := S(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-"))
	if _, ok := l.edges[norm]; ok {
		return norm, true
	}
	var zero S
	return zero, false
}

// Terminal reports whether s has no outgoing transitions.
func (l *Lifecycle[S]) Terminal(s S) bool {
	return len(l.edges[s]) == 0
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobActive    JobStatus = "active"
	JobExtended  JobStatus = "extended"
	JobCompleted JobStatus = "completed"
)

var JobStatuses = newLifecycle([]JobStatus{JobActive}, map[JobStatus][]JobStatus{
	JobActive:    {JobExtended, JobCompleted},
	JobExtended:  {JobActive, JobCompleted},
	JobCompleted: {},
})

func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	return JobStatuses.CanTransition(s, to)
}

func (s JobStatus) ValidateTransition(to JobStatus) error {
	return JobStatuses.ValidateTransition(s, to)
}

// ParseJobStatus returns false for unknown values.
func ParseJobStatus(raw string) (JobStatus, bool) { return JobStatuses.Parse(raw) }

// TimelogType is the lifecycle state of a Timelog.
type TimelogType string

const (
	TimelogCaptured TimelogType = "captured"
	TimelogAdjusted TimelogType = "adjusted"
)

var TimelogTypes = newLifecycle([]TimelogType{TimelogCaptured}, map[TimelogType][]TimelogType{
	TimelogCaptured: {TimelogAdjusted},
	TimelogAdjusted: {},
})

func (t TimelogType) CanTransitionTo(to TimelogType) bool {
	return TimelogTypes.CanTransition(t, to)
}

func (t TimelogType) ValidateTransition(to TimelogType) error {
	return TimelogTypes.ValidateTransition(t, to)
}

func ParseTimelogType(raw string) (TimelogType, bool) { return TimelogTypes.Parse(raw) }

// PaymentStatus is the lifecycle state of a PaymentLineItem.
type PaymentStatus string

const (
	PaymentNotPaid    PaymentStatus = "not-paid"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
)

var PaymentStatuses = newLifecycle([]PaymentStatus{PaymentNotPaid}, map[PaymentStatus][]PaymentStatus{
	PaymentNotPaid:    {PaymentProcessing},
	PaymentProcessing: {PaymentNotPaid, PaymentPaid},
	PaymentPaid:       {},
})

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return PaymentStatuses.CanTransition(s, to)
}

func (s PaymentStatus) ValidateTransition(to PaymentStatus) error {
	return PaymentStatuses.ValidateTransition(s, to)
}

func ParsePaymentStatus(raw string) (PaymentStatus, bool) { return PaymentStatuses.Parse(raw) }
