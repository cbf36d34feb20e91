package system

import (
	"runtime"
	"sync"
)

// Pool provides synchronous fan-out/fan-in parallel execution over a fixed
// number of workers. Both helpers block until every worker has finished, so
// callers can treat each invocation as a barrier between processing phases.
type Pool struct {
	workers int
}

// Create a new pool. A non-positive worker count selects one worker per
// available CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Get the number of workers used for fan-out.
func (p *Pool) Workers() int {
	return p.workers
}

// ParallelFor splits the index range [0, n) into one contiguous sub-range per
// worker and executes fn concurrently for each of them.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	step := n / p.workers
	if n%p.workers != 0 {
		step++
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += step {
		end := start + step
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// ParallelEach executes fn once for every index in [0, n), drawing jobs from
// a shared queue so that uneven job costs still balance across the workers.
func (p *Pool) ParallelEach(n int, fn func(index int)) {
	if n <= 0 {
		return
	}

	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	workers := p.workers
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	wg.Wait()
}
