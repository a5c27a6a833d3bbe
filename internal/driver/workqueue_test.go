package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueRunsInIssueOrder(t *testing.T) {
	q := NewWorkQueue()
	defer q.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Enqueue(func() error {
			got = append(got, i)
			return nil
		})
	}
	require.NoError(t, q.Synchronize())

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorkQueueStickyError(t *testing.T) {
	q := NewWorkQueue()
	defer q.Close()

	first := errors.New("boom")
	q.Enqueue(func() error { return first })
	q.Enqueue(func() error { return errors.New("later") })

	err := q.Synchronize()
	assert.ErrorIs(t, err, first)

	// The first error stays sticky across further synchronization points.
	q.Enqueue(func() error { return nil })
	assert.ErrorIs(t, q.Synchronize(), first)
}

func TestWorkQueueCloseIdempotent(t *testing.T) {
	q := NewWorkQueue()
	q.Enqueue(func() error { return nil })

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
}

func TestWorkQueueAfterClose(t *testing.T) {
	q := NewWorkQueue()
	require.NoError(t, q.Close())

	// Synchronize stays callable and reports the retained error.
	require.NoError(t, q.Synchronize())
	assert.Panics(t, func() { q.Enqueue(func() error { return nil }) })
}

func TestWorkQueueSynchronizeAfterCloseKeepsError(t *testing.T) {
	q := NewWorkQueue()
	boom := errors.New("boom")
	q.Enqueue(func() error { return boom })

	assert.ErrorIs(t, q.Close(), boom)
	assert.ErrorIs(t, q.Synchronize(), boom)
}
