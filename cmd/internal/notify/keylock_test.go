package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	t.Parallel()

	k := newKeyedLocks()
	unlock := k.lock([]string{"b", "a", "a"})

	acquired := make(chan struct{})
	go func() {
		u := k.lock([]string{"a"})
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got a key that is still held")
	case <-time.After(30 * time.Millisecond):
	}

	other := k.lock([]string{"c"})
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("key was never released")
	}
	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestKeyedLocks_OverlappingSetsDoNotDeadlock(t *testing.T) {
	t.Parallel()

	k := newKeyedLocks()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			k.lock([]string{"x", "y"})()
		}()
		go func() {
			defer wg.Done()
			k.lock([]string{"y", "x"})()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock")
	}
	require.Zero(t, k.size())
}
