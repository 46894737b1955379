package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newBreaker(c *clock, changes *[]State) *CircuitBreaker {
	return NewCircuitBreaker(Settings{
		Name:        "clinic-api",
		MaxFailures: 2,
		Timeout:     10 * time.Second,
		Now:         c.now,
		OnStateChange: func(_ string, _, to State) {
			*changes = append(*changes, to)
		},
	})
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	var changes []State
	cb := newBreaker(c, &changes)
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, changes)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	c := &clock{t: time.Now()}
	var changes []State
	cb := newBreaker(c, &changes)
	boom := errors.New("boom")

	_ = cb.Execute(func() error { return boom })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return boom })

	assert.Equal(t, StateClosed, cb.State())
	assert.Empty(t, changes)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	var changes []State
	cb := newBreaker(c, &changes)
	boom := errors.New("boom")
	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })

	c.t = c.t.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrOpen, "only one probe at a time")

	cb.Record(false)
	assert.Equal(t, StateOpen, cb.State())

	c.t = c.t.Add(11 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}, changes)
}

func TestCircuitBreaker_ReleaseKeepsStreakAndState(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	var changes []State
	cb := NewCircuitBreaker(Settings{Name: "clinic-api", MaxFailures: 3, Timeout: 10 * time.Second, Now: c.now,
		OnStateChange: func(_ string, _, to State) { changes = append(changes, to) }})

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.Record(false)
	}
	require.NoError(t, cb.Allow())
	cb.Release()
	require.NoError(t, cb.Allow())
	cb.Record(false)
	assert.Equal(t, StateOpen, cb.State())

	c.t = c.t.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Release()
	assert.Equal(t, StateHalfOpen, cb.State(), "an abandoned probe does not close the breaker")
	require.NoError(t, cb.Allow(), "the next probe is admitted")
	cb.Record(true)
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, changes)
}
