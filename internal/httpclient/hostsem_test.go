package httpclient

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostSemaphore_LimitsConcurrencyPerHost(t *testing.T) {
	sem := NewHostSemaphore(2)
	var concurrent, maxConcurrent int32
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		go func() {
			release := sem.Acquire("https://api.example.com")
			defer release()
			n := atomic.AddInt32(&concurrent, 1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	require.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(2))
}

func TestHostSemaphore_SeparatesByHost(t *testing.T) {
	sem := NewHostSemaphore(1)
	releaseA := sem.Acquire("https://a.example.com")
	defer releaseA()

	acquired := make(chan struct{}, 1)
	go func() {
		release := sem.Acquire("https://b.example.com")
		acquired <- struct{}{}
		release()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("different host should not be blocked by a.example.com's semaphore")
	}
}
