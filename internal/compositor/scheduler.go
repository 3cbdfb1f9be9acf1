package compositor

import (
	"context"
	"sync/atomic"
	"time"
)

// Scheduler redraws only when something marked the frame dirty, and at most
// once per tick.
type Scheduler struct {
	dirty atomic.Bool
}

// NewScheduler returns a scheduler that renders on its first tick.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	s.dirty.Store(true)
	return s
}

func (s *Scheduler) MarkDirty() { s.dirty.Store(true) }

func (s *Scheduler) Dirty() bool { return s.dirty.Load() }

// Flush runs render if the frame is dirty and reports whether it did.
func (s *Scheduler) Flush(render func()) bool {
	if !s.dirty.Swap(false) {
		return false
	}
	render()
	return true
}

// Run flushes every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, render func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(render)
		}
	}
}
