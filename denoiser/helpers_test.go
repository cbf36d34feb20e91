package denoiser

// serialExec is a single-threaded Executor used to keep unit tests
// deterministic.
type serialExec struct{}

func (serialExec) Workers() int {
	return 1
}

func (serialExec) ParallelFor(n int, fn func(start, end int)) {
	if n > 0 {
		fn(0, n)
	}
}

func (serialExec) ParallelEach(n int, fn func(index int)) {
	for i := 0; i < n; i++ {
		fn(i)
	}
}

func defaultTestOptions() Options {
	return Options{
		HistogramBins:     4,
		DistanceThreshold: 1.0,
		PatchRadius:       1,
		SearchRadius:      1,
		Scales:            1,
	}
}
