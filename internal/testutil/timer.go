package testutil

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RecordingTimer is a backoff.Timer that fires immediately and remembers
// every wait it was asked for.
type RecordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

// NewRecordingTimer creates a RecordingTimer.
func NewRecordingTimer() *RecordingTimer {
	return &RecordingTimer{c: make(chan time.Time, 1)}
}

// Factory returns a constructor suitable for snip.Retrier.WithTimer.
// All timers it hands out record into t.
func (t *RecordingTimer) Factory() func() backoff.Timer {
	return func() backoff.Timer { return t }
}

func (t *RecordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	select {
	case t.c <- time.Time{}:
	default:
	}
}

func (t *RecordingTimer) Stop() {}

func (t *RecordingTimer) C() <-chan time.Time { return t.c }

// Waits returns the durations passed to Start, in order.
func (t *RecordingTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
