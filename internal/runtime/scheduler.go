package runtime

import (
	"sync"
	"time"
)

// Scheduler runs a flush on the next frame tick. Implementations must not
// run fn synchronously inside Schedule.
type Scheduler interface {
	Schedule(fn func())
}

// Clock is the time source used to measure the flush budget.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// TickScheduler fires scheduled callbacks after a fixed frame interval,
// approximating an animation-frame cadence.
type TickScheduler struct {
	Interval time.Duration
}

// NewTickScheduler returns a scheduler with the given interval (16ms when
// zero or negative).
func NewTickScheduler(interval time.Duration) *TickScheduler {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &TickScheduler{Interval: interval}
}

// Schedule implements Scheduler.
func (s *TickScheduler) Schedule(fn func()) {
	time.AfterFunc(s.Interval, fn)
}

// ManualScheduler queues callbacks until RunPending is called. It makes
// flush timing deterministic in tests and headless tools.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
}

// Schedule implements Scheduler.
func (s *ManualScheduler) Schedule(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
}

// Pending reports how many callbacks are waiting.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunPending runs the callbacks queued so far (not those they schedule) and
// returns how many ran.
func (s *ManualScheduler) RunPending() int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}
