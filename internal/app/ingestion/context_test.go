package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionContext_DrainRunsInOrder(t *testing.T) {
	ic := NewIngestionContext()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		ic.RunAfterCommit(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	require.Equal(t, 3, ic.Pending())

	require.NoError(t, ic.Drain(context.Background()))
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, ic.Pending())
}

func TestIngestionContext_DrainStopsOnFirstError(t *testing.T) {
	ic := NewIngestionContext()

	ran := 0
	boom := errors.New("boom")
	ic.RunAfterCommit(func(context.Context) error { ran++; return nil })
	ic.RunAfterCommit(func(context.Context) error { return boom })
	ic.RunAfterCommit(func(context.Context) error { ran++; return nil })

	err := ic.Drain(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ran)

	// The queue is consumed even on failure; a second drain is a no-op.
	require.NoError(t, ic.Drain(context.Background()))
	assert.Equal(t, 1, ran)
}
