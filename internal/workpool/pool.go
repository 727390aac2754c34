// Package workpool implements a fixed-size worker pool with a bounded
// submission queue and a caller-runs overflow policy, so submission never
// blocks indefinitely and forward progress is always guaranteed (spec.md
// §4.L2).
//
// The shape is grounded on the teacher's shards/sched.go scheduler, which
// gates concurrent work with a golang.org/x/sync/semaphore.Weighted and
// tracks queue/run state; this package keeps that semaphore-gated design
// but drops the interactive/batch priority split (zoekt's search queries
// need that QoS distinction to keep the prompt responsive under load from
// slow queries -- a working-tree scan has no analogous slow-query class,
// every shard does a bounded amount of work).
package workpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool runs submitted tasks across a fixed number of concurrent slots.
type Pool struct {
	sem   *semaphore.Weighted
	queue chan struct{}
}

// New returns a Pool sized to n concurrent tasks. n <= 0 defaults to
// runtime.NumCPU(), matching spec.md's "default = CPU count" for
// num-threads.
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(n)),
		queue: make(chan struct{}, n*2),
	}
}

// Submit runs fn on a pool goroutine if a slot is immediately available or
// the submission queue has room; otherwise fn runs synchronously on the
// caller's goroutine (caller-runs), guaranteeing the task still completes.
// Submit returns as soon as fn is handed to a pool goroutine, or, when fn
// runs inline, after fn has returned; waiting for completion is the
// caller's responsibility (e.g. sync.WaitGroup).
func (p *Pool) Submit(fn func()) {
	select {
	case p.queue <- struct{}{}:
		go func() {
			defer func() { <-p.queue }()
			_ = p.sem.Acquire(context.Background(), 1)
			defer p.sem.Release(1)
			fn()
		}()
	default:
		// Queue is full: run inline so the caller makes progress
		// instead of blocking on a full channel.
		fn()
	}
}
