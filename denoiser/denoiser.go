package denoiser

import (
	"errors"
	"time"
)

var (
	ErrNoSampleSource   = errors.New("denoiser: no sample source provided")
	ErrNoExecutor       = errors.New("denoiser: no executor provided")
	ErrBadSampleCount   = errors.New("denoiser: need at least two samples per pixel")
	ErrBadBinCount      = errors.New("denoiser: histogram bin count must be positive")
	ErrBadThreshold     = errors.New("denoiser: distance threshold must not be negative")
	ErrBadPatchRadius   = errors.New("denoiser: patch radius must not be negative")
	ErrBadSearchRadius  = errors.New("denoiser: search window radius must be positive")
	ErrBadScaleCount    = errors.New("denoiser: scale count must be positive")
	ErrBinCountMismatch = errors.New("denoiser: histogram bin count differs from the sample source")
	ErrFrameTooSmall    = errors.New("denoiser: frame cannot fit a patch border at the processed scale")
)

type Options struct {
	// Number of light-transport histogram bins per pixel. Must match the bin
	// count the sample source accumulated with.
	HistogramBins int

	// Patches whose histogram distance stays at or below this threshold are
	// treated as similar to the window center.
	DistanceThreshold float64

	// Patch footprint radius.
	PatchRadius int

	// Search window radius.
	SearchRadius int

	// Number of pyramid levels.
	Scales int

	// Denoise every pyramid level from coarsest to finest with a merge step
	// in between instead of denoising the finest level only.
	Multiscale bool
}

func (o Options) validate() error {
	switch {
	case o.HistogramBins < 1:
		return ErrBadBinCount
	case o.DistanceThreshold < 0:
		return ErrBadThreshold
	case o.PatchRadius < 0:
		return ErrBadPatchRadius
	case o.SearchRadius < 1:
		return ErrBadSearchRadius
	case o.Scales < 1:
		return ErrBadScaleCount
	}
	return nil
}

// The SampleSource interface is implemented by per-pixel sample statistics
// collectors. All tables are read-only during denoising except the denoised
// table, which receives the final result.
type SampleSource interface {
	// Frame resolution shared by all tables.
	Resolution() (width, height int)

	// Number of channels per pixel.
	Channels() int

	// Number of histogram bins per pixel.
	HistogramBins() int

	// Accumulated sample sums, one entry of Channels() values per pixel.
	SampleTable() []float64

	// Accumulated squared sample sums, same layout as SampleTable.
	SampleSquaredTable() []float64

	// Accumulated cross-covariance factors, NumCovarianceFactors() values
	// per pixel.
	CovarianceFactorTable() []float64

	// Accumulated histograms, laid out (pixel*bins + bin)*Channels() + c.
	HistogramTable() []float64

	// Number of cross-covariance factors kept per pixel.
	NumCovarianceFactors() int

	// Offset of the (c, c+1) cross term inside a pixel's factor block.
	FactorIndex(c int) int

	// Write target for the denoised result, same layout as SampleTable.
	DenoisedTable() []float64
}

// The Executor interface is implemented by parallel-execution contexts. Both
// calls are synchronous fan-out/fan-in barriers.
type Executor interface {
	// Number of workers used for fan-out.
	Workers() int

	// Run fn over contiguous sub-ranges of [0, n) and wait for completion.
	ParallelFor(n int, fn func(start, end int))

	// Run fn once per index in [0, n) and wait for completion.
	ParallelEach(n int, fn func(index int))
}

// The Denoiser interface is implemented by all denoising algorithms.
type Denoiser interface {
	// Denoise the accumulated sample statistics for one completed render
	// cycle batch and write the result into the source's denoised table.
	Denoise(exec Executor, sampleCount int, src SampleSource) error

	// Get statistics for the last denoise invocation.
	Stats() Stats
}

type PhaseStat struct {
	// Phase name.
	Name string

	// Wall time spent in the phase.
	Time time.Duration
}

type Stats struct {
	// Individual phase stats in execution order.
	Phases []PhaseStat

	// Total denoise time.
	Total time.Duration
}
