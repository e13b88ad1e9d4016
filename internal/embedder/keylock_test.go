package embedder

import (
	"sync"
	"testing"
)

func TestKeyedLockSerializesSameKey(t *testing.T) {
	l := NewKeyedLock()

	const workers = 8
	const iterations = 200
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.Lock("sweep")
				counter++
				l.Unlock("sweep")
			}
		}()
	}
	wg.Wait()

	if counter != workers*iterations {
		t.Errorf("counter = %d, want %d (lost updates mean the lock failed)", counter, workers*iterations)
	}
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	l := NewKeyedLock()
	l.Lock("a")

	done := make(chan struct{})
	go func() {
		l.Lock("b")
		l.Unlock("b")
		close(done)
	}()

	// A different key must not block behind "a".
	<-done
	l.Unlock("a")
}

func TestKeyedLockCleansUpEntries(t *testing.T) {
	l := NewKeyedLock()
	l.Lock("x")
	l.Unlock("x")

	l.mu.Lock()
	n := len(l.locks)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("lock map has %d entries after release, want 0", n)
	}
}
