package models

import (
	"testing"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reachable walks the lifecycle graph from its initial states.
func reachable[S ~string](l *Lifecycle[S]) map[S]bool {
	seen := map[S]bool{}
	queue := l.Initial()
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if seen[s] {
			continue
		}
		seen[s] = true
		queue = append(queue, l.Allowed(s)...)
	}
	return seen
}

func assertClosed[S ~string](t *testing.T, l *Lifecycle[S]) {
	t.Helper()
	seen := reachable(l)
	for _, s := range l.States() {
		assert.False(t, l.CanTransition(s, s), "%s must not transition to itself", s)
		for _, to := range l.Allowed(s) {
			assert.True(t, seen[to], "%s is unreachable", to)
		}
	}
}

func TestLifecyclesAreClosed(t *testing.T) {
	assertClosed(t, JobStatuses)
	assertClosed(t, TimelogTypes)
	assertClosed(t, PaymentStatuses)
}

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobActive, JobExtended, true},
		{JobExtended, JobActive, true},
		{JobActive, JobCompleted, true},
		{JobExtended, JobCompleted, true},
		{JobCompleted, JobActive, false},
		{JobCompleted, JobExtended, false},
		{JobExtended, JobExtended, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.True(t, JobStatuses.Terminal(JobCompleted))
}

func TestTimelogTypeTransitions(t *testing.T) {
	assert.True(t, TimelogCaptured.CanTransitionTo(TimelogAdjusted))
	assert.False(t, TimelogAdjusted.CanTransitionTo(TimelogCaptured))
	assert.False(t, TimelogAdjusted.CanTransitionTo(TimelogAdjusted))
	assert.True(t, TimelogTypes.Terminal(TimelogAdjusted))
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, PaymentNotPaid.CanTransitionTo(PaymentProcessing))
	assert.False(t, PaymentNotPaid.CanTransitionTo(PaymentPaid))
	assert.True(t, PaymentProcessing.CanTransitionTo(PaymentNotPaid))
	assert.True(t, PaymentProcessing.CanTransitionTo(PaymentPaid))
	assert.Empty(t, PaymentStatuses.Allowed(PaymentPaid))
}

func TestValidateTransition(t *testing.T) {
	err := JobExtended.ValidateTransition(JobExtended)
	require.Error(t, err)

	var te *e.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "extended", te.From)
	assert.Equal(t, "extended", te.To)
	assert.ErrorIs(t, err, e.ErrValidation)

	assert.NoError(t, JobActive.ValidateTransition(JobExtended))
}

func TestParse(t *testing.T) {
	s, ok := ParsePaymentStatus("NOT_PAID")
	assert.True(t, ok)
	assert.Equal(t, PaymentNotPaid, s)

	j, ok := ParseJobStatus("Active")
	assert.True(t, ok)
	assert.Equal(t, JobActive, j)

	_, ok = ParseTimelogType("deleted")
	assert.False(t, ok)
	_, ok = ParseJobStatus("")
	assert.False(t, ok)
}
