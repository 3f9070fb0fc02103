package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriterPriorityUncontended(t *testing.T) {
	l := NewWriterPriority()
	within(t, time.Second, func() {
		l.Lock(time.Millisecond)
		l.Unlock()
		l.RLock()
		l.RLock()
		l.RUnlock()
		l.RUnlock()
	})
	assert.Zero(t, l.Escalations())
}

func TestWriterPriorityExcludesReaders(t *testing.T) {
	l := NewWriterPriority()
	l.Lock(time.Millisecond)

	var read atomic.Bool
	go func() {
		l.RLock()
		read.Store(true)
		l.RUnlock()
	}()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, read.Load())
	l.Unlock()
	assert.Eventually(t, read.Load, time.Second, time.Millisecond)
}

// A steady stream of overlapping readers never lets TryLock succeed; the
// writer must still get through shortly after its patience elapses.
func TestWriterPriorityLiveness(t *testing.T) {
	const patience = 50 * time.Millisecond
	l := NewWriterPriority()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 6; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				l.RLock()
				time.Sleep(2 * time.Millisecond)
				l.RUnlock()
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)

	var worst time.Duration
	for i := 0; i < 5; i++ {
		start := time.Now()
		l.Lock(patience)
		if d := time.Since(start); d > worst {
			worst = d
		}
		l.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	wg.Wait()

	assert.Less(t, worst, patience+250*time.Millisecond, "writer starved: worst wait %s", worst)
}

func TestWriterPrioritySerialisesWriters(t *testing.T) {
	l := NewWriterPriority()
	var (
		inside atomic.Int32
		bad    atomic.Bool
		wg     sync.WaitGroup
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Lock(time.Millisecond)
				if inside.Add(1) != 1 {
					bad.Store(true)
				}
				inside.Add(-1)
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.False(t, bad.Load())
}
