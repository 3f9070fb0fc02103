package lock

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	minBackoff = 50 * time.Microsecond
	maxBackoff = 5 * time.Millisecond
)

// WriterPriority is a reader/writer lock that favours readers until a writer
// has waited longer than its patience, then stops admitting new readers until
// that writer is in.
//
// Under light write load readers never wait on a flag; under sustained read
// load a writer is guaranteed to get through once its patience runs out.
type WriterPriority struct {
	rw      sync.RWMutex
	writers sync.Mutex // serialises writers

	mu          sync.Mutex // guards cond waits on escalated
	cond        *sync.Cond
	escalated   atomic.Bool
	escalations atomic.Uint64
}

func NewWriterPriority() *WriterPriority {
	l := &WriterPriority{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RLock takes shared access, first waiting out any escalated writer.
func (l *WriterPriority) RLock() {
	if l.escalated.Load() {
		l.mu.Lock()
		for l.escalated.Load() {
			l.cond.Wait()
		}
		l.mu.Unlock()
	}
	l.rw.RLock()
}

func (l *WriterPriority) RUnlock() {
	l.rw.RUnlock()
}

// Lock takes exclusive access. It tries without blocking readers for up to
// patience; after that new readers queue behind it and it blocks until the
// current readers drain. Lock never fails.
func (l *WriterPriority) Lock(patience time.Duration) {
	l.writers.Lock()

	deadline := time.Now().Add(patience)
	backoff := minBackoff
	for {
		if l.rw.TryLock() {
			return
		}
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		time.Sleep(min(backoff, left))
		backoff = min(backoff*2, maxBackoff)
	}

	l.mu.Lock()
	l.escalated.Store(true)
	l.mu.Unlock()

	l.rw.Lock()
	l.escalations.Add(1)

	l.mu.Lock()
	l.escalated.Store(false)
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *WriterPriority) Unlock() {
	l.rw.Unlock()
	l.writers.Unlock()
}

// Escalations counts writer acquisitions that outlasted their patience.
func (l *WriterPriority) Escalations() uint64 {
	return l.escalations.Load()
}
