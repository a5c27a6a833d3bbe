package webgpu

import (
	"sync"

	"github.com/kiln-ml/kiln/internal/driver"
)

// stream is a goroutine-backed in-order queue. Each enqueued item runs a
// full GPU round trip (upload, dispatch, readback), so stream order is
// execution order on the device too.
type stream struct {
	q *driver.WorkQueue

	releaseOnce sync.Once
	releaseErr  error
}

func (s *stream) Enqueue(fn func() error) { s.q.Enqueue(fn) }
func (s *stream) Synchronize() error      { return s.q.Synchronize() }

func (s *stream) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.q.Close()
	})
	return s.releaseErr
}
