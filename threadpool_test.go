package kache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestThreadPoolRunsAllJobs(t *testing.T) {
	p := NewThreadPool(4)
	var n int64
	var wg sync.WaitGroup
	const jobs = 2000

	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		p.Enqueue(func() {
			atomic.AddInt64(&n, 1)
			wg.Done()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Log("timed out waiting for jobs to complete")
		t.FailNow()
	}

	if atomic.LoadInt64(&n) != jobs {
		t.Log("not all jobs ran", n)
		t.FailNow()
	}
}
