package workpool

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(4)
	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	if got := n.Load(); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
}

func TestSubmitOverflowRunsInline(t *testing.T) {
	p := New(1)
	done := make(chan struct{})
	// New(1) admits one running task plus one waiting task; the third
	// submission overflows.
	p.Submit(func() { <-done })
	p.Submit(func() { <-done })

	ran := false
	p.Submit(func() { ran = true })
	if !ran {
		t.Fatal("expected overflow submission to run before Submit returned")
	}
	close(done)
}
