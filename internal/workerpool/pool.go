// Package workerpool implements the bounded commit worker pool (spec §4.9):
// a fixed set of long-lived goroutines draining one shared job queue. The
// pool has the size passed to New (runtime.NumCPU when that is not
// positive) and is not resized to the number of trees in a commit. The
// teacher repo has no worker pool of its own; this is built in its idiom —
// channels, sync.WaitGroup, a sync.Once guarding shutdown — matching the goroutine-fan-out shape of
// freyjadb's pkg/bptree/bptree_concurrent_test.go and the
// mutex-plus-timer discipline of pkg/store/log_writer.go.
package workerpool

import (
	"runtime"
	"sync"
)

// Job is one unit of work dispatched to the pool: a per-tree commit.
type Job func() error

type request struct {
	job    Job
	result chan<- error
}

// Pool is a bounded pool of long-lived workers draining a single queue.
type Pool struct {
	jobs   chan request
	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// New starts a pool sized to size workers. size <= 0 defaults to the CPU
// count (spec §4.9's max_threads default).
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		jobs:   make(chan request),
		closed: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.jobs {
		req.result <- req.job()
	}
}

// Submit posts job to the queue and returns a channel that receives its
// result exactly once. Blocks until a worker is free to accept it.
func (p *Pool) Submit(job Job) <-chan error {
	result := make(chan error, 1)
	p.jobs <- request{job: job, result: result}
	return result
}

// Run dispatches every job concurrently and waits for all of them,
// returning the first error encountered (spec §4.8 commit: "any error
// causes the outer commit to fail"). Every job still runs to completion
// even if an earlier one failed, since partial per-tree commits cannot be
// un-appended.
func (p *Pool) Run(jobs []Job) error {
	results := make([]<-chan error, len(jobs))
	for i, job := range jobs {
		results[i] = p.Submit(job)
	}
	var first error
	for _, r := range results {
		if err := <-r; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close stops accepting new work and waits for in-flight workers to drain.
// Workers terminate when the queue closes (spec §4.9).
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.jobs)
		close(p.closed)
	})
	p.wg.Wait()
}
