package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	name string
	log  *[]string
	err  error
}

func (f *fakeResource) Release() error {
	*f.log = append(*f.log, f.name)
	return f.err
}

func TestTrackerReleasesInReverseOrder(t *testing.T) {
	var log []string
	tr := NewTracker()
	tr.Register(&fakeResource{name: "a", log: &log})
	tr.Register(&fakeResource{name: "b", log: &log})
	tr.Register(&fakeResource{name: "c", log: &log})
	require.Equal(t, 3, tr.Len())

	require.NoError(t, tr.Close())
	assert.Equal(t, []string{"c", "b", "a"}, log)
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerAccumulatesReleaseErrors(t *testing.T) {
	var log []string
	errB := errors.New("b failed")
	errC := errors.New("c failed")

	tr := NewTracker()
	tr.Register(&fakeResource{name: "a", log: &log})
	tr.Register(&fakeResource{name: "b", log: &log, err: errB})
	tr.Register(&fakeResource{name: "c", log: &log, err: errC})

	err := tr.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errB)
	assert.ErrorIs(t, err, errC)
	// A failing release does not stop the rest.
	assert.Equal(t, []string{"c", "b", "a"}, log)
}

func TestTrackerCloseIdempotent(t *testing.T) {
	var log []string
	tr := NewTracker()
	tr.Register(&fakeResource{name: "a", log: &log, err: errors.New("boom")})

	require.Error(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, []string{"a"}, log)
}

func TestTrackerRegisterAfterClosePanics(t *testing.T) {
	tr := NewTracker()
	require.NoError(t, tr.Close())
	assert.Panics(t, func() {
		tr.Register(&fakeResource{name: "late", log: new([]string)})
	})
}

func TestTrackerMoveTo(t *testing.T) {
	var log []string
	scoped := NewTracker()
	scoped.Register(&fakeResource{name: "a", log: &log})
	scoped.Register(&fakeResource{name: "b", log: &log})

	owner := NewTracker()
	owner.Register(&fakeResource{name: "pre", log: &log})
	scoped.MoveTo(owner)

	assert.Equal(t, 0, scoped.Len())
	require.Equal(t, 3, owner.Len())

	// Closing the drained scope releases nothing.
	require.NoError(t, scoped.Close())
	assert.Empty(t, log)

	// The owner releases moved entries after its own, still LIFO overall.
	require.NoError(t, owner.Close())
	assert.Equal(t, []string{"b", "a", "pre"}, log)
}
