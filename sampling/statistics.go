package sampling

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrBadResolution = errors.New("sampling: resolution must be positive")
	ErrBadChannels   = errors.New("sampling: channel count must be positive")
	ErrBadBins       = errors.New("sampling: histogram bin count must be positive")
)

// Statistics accumulates per-pixel sample moments during rendering and holds
// the denoised output table. All tables are flat float64 slices.
//
// Layouts:
//
//	sample / squared / denoised:  pixel*channels + c
//	covariance factors:           pixel*NumCovarianceFactors() + k, where k
//	                              walks the channel pairs (a,b), a < b, in
//	                              row-major order of the upper triangle
//	histogram:                    (pixel*bins + b)*channels + c
type Statistics struct {
	width    int
	height   int
	channels int
	bins     int

	samples        []float64
	samplesSquared []float64
	covFactors     []float64
	histogram      []float64
	denoised       []float64
}

// Create a new statistics accumulator for the given frame resolution,
// channel count (3 for RGB, the spectra size otherwise) and number of
// light-transport histogram bins.
func New(width, height, channels, bins int) (*Statistics, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadResolution
	}
	if channels <= 0 {
		return nil, ErrBadChannels
	}
	if bins <= 0 {
		return nil, ErrBadBins
	}

	n := width * height
	return &Statistics{
		width:          width,
		height:         height,
		channels:       channels,
		bins:           bins,
		samples:        make([]float64, n*channels),
		samplesSquared: make([]float64, n*channels),
		covFactors:     make([]float64, n*channels*(channels-1)/2),
		histogram:      make([]float64, n*bins*channels),
		denoised:       make([]float64, n*channels),
	}, nil
}

// Get the frame resolution shared by all tables.
func (s *Statistics) Resolution() (width, height int) {
	return s.width, s.height
}

// Get the number of channels per pixel.
func (s *Statistics) Channels() int {
	return s.channels
}

// Get the number of histogram bins per pixel.
func (s *Statistics) HistogramBins() int {
	return s.bins
}

// Get the per-pixel accumulated sample sums.
func (s *Statistics) SampleTable() []float64 {
	return s.samples
}

// Get the per-pixel accumulated squared sample sums.
func (s *Statistics) SampleSquaredTable() []float64 {
	return s.samplesSquared
}

// Get the per-pixel accumulated cross-covariance factors.
func (s *Statistics) CovarianceFactorTable() []float64 {
	return s.covFactors
}

// Get the per-pixel light-transport histograms.
func (s *Statistics) HistogramTable() []float64 {
	return s.histogram
}

// Get the denoised output table written by the denoiser.
func (s *Statistics) DenoisedTable() []float64 {
	return s.denoised
}

// NumCovarianceFactors returns the number of cross-covariance accumulators
// kept per pixel, one per unordered channel pair.
func (s *Statistics) NumCovarianceFactors() int {
	return s.channels * (s.channels - 1) / 2
}

// FactorIndex returns the offset of the (c, c+1) cross term inside a pixel's
// factor block. The term for the pair (a, b), a < b, lives at
// FactorIndex(a) + (b-a) - 1.
func (s *Statistics) FactorIndex(c int) int {
	index := 0
	for a := 0; a < c; a++ {
		index += s.channels - 1 - a
	}
	return index
}

// AddSample accumulates a single sample into the pixel's moment and histogram
// tables. Histogram binning is linear over [0, 1) with the top bin absorbing
// anything above.
func (s *Statistics) AddSample(x, y int, value []float64) {
	if len(value) != s.channels {
		panic("sampling: sample channel count mismatch")
	}

	pixel := y*s.width + x
	base := pixel * s.channels
	for c, v := range value {
		s.samples[base+c] += v
		s.samplesSquared[base+c] += v * v
	}

	factors := s.covFactors[pixel*s.NumCovarianceFactors():]
	k := 0
	for a := 0; a < s.channels; a++ {
		for b := a + 1; b < s.channels; b++ {
			factors[k] += value[a] * value[b]
			k++
		}
	}

	for c, v := range value {
		bin := int(v * float64(s.bins))
		if bin < 0 {
			bin = 0
		} else if bin >= s.bins {
			bin = s.bins - 1
		}
		s.histogram[(pixel*s.bins+bin)*s.channels+c]++
	}
}

// NoiseSummary estimates the per-pixel noise level from the accumulated
// moments: it returns the mean and standard deviation of the per-pixel,
// per-channel sample standard errors after cycles samples per pixel.
func (s *Statistics) NoiseSummary(cycles int) (mean, stddev float64) {
	if cycles < 2 {
		panic("sampling: noise summary needs at least two samples per pixel")
	}

	k := 1.0 / float64(cycles)
	k1 := 1.0 / float64(cycles-1)
	errs := make([]float64, 0, len(s.samples))
	for i := range s.samples {
		variance := k * k1 * (s.samplesSquared[i] - k*s.samples[i]*s.samples[i])
		if variance < 0 {
			variance = 0
		}
		errs = append(errs, math.Sqrt(variance))
	}
	return stat.MeanStdDev(errs, nil)
}
