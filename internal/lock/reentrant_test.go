package lock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// within fails the test if fn does not return before d.
func within(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("blocked for more than %s", d)
	}
}

func TestReentrantOwnerReadsWithoutBlocking(t *testing.T) {
	var l Reentrant
	within(t, time.Second, func() {
		h := l.Lock(nil)
		l.RLock(h)
		l.RLock(h)
		l.RUnlock(h)
		l.RUnlock(h)
		h.Unlock()
	})
	assert.False(t, l.Holds(nil))
}

func TestReentrantNestedExclusive(t *testing.T) {
	var l Reentrant
	h := l.Lock(nil)
	require.Same(t, h, l.Lock(h))
	require.Same(t, h, l.Lock(h))
	require.Equal(t, 3, h.Depth())

	acquired := make(chan struct{})
	go func() {
		other := l.Lock(nil)
		close(acquired)
		other.Unlock()
	}()

	for i := 0; i < 2; i++ {
		h.Unlock()
		select {
		case <-acquired:
			t.Fatalf("other goroutine acquired after %d of 3 releases", i+1)
		case <-time.After(20 * time.Millisecond):
		}
	}
	h.Unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("other goroutine never acquired after final release")
	}
	assert.Equal(t, 0, h.Depth())
}

func TestReentrantExclusiveIsExclusive(t *testing.T) {
	var (
		l      Reentrant
		inside atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h := l.Lock(nil)
				h = l.Lock(h)
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				inside.Add(-1)
				h.Unlock()
				h.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestReentrantForeignTokenDoesNotReenter(t *testing.T) {
	var a, b Reentrant
	ha := a.Lock(nil)
	defer ha.Unlock()
	assert.False(t, b.Holds(ha))

	hb, ok := b.TryLock(ha)
	require.True(t, ok)
	assert.NotSame(t, ha, hb)
	_, ok = b.TryLock(nil)
	assert.False(t, ok)
	hb.Unlock()
}

func TestReentrantReadersShare(t *testing.T) {
	var l Reentrant
	l.RLock(nil)
	within(t, time.Second, func() {
		l.RLock(nil)
		l.RUnlock(nil)
	})
	_, ok := l.TryLock(nil)
	assert.False(t, ok, "writer must not get in while a reader holds the lock")
	l.RUnlock(nil)
}

func TestUnlockUnheldPanics(t *testing.T) {
	var h *Hold
	assert.Panics(t, func() { h.Unlock() })
}
