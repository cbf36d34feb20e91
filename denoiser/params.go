package denoiser

import "image"

// parameters holds the per-scale tables of the denoising pyramid. All tables
// are flat float64 slices indexed pixel-major (y*width + x) with dim values
// per pixel; the histogram table is additionally bin-major, i.e. the entry
// for (bin, pixel) starts at (bin*numPixels + pixel)*dim.
type parameters struct {
	res     image.Point
	samples int
	bins    int
	dim     int

	sampleValues []float64 // expected sample values
	histograms   []float64 // light-transport histograms
	covFactors   []float64 // upper-triangular sample covariance entries
	denoised     []float64 // accumulated denoised estimates
}

func (p *parameters) numPixels() int {
	return p.res.X * p.res.Y
}

func (p *parameters) covDim() int {
	return p.dim * (p.dim + 1) / 2
}

func (p *parameters) alloc() {
	n := p.numPixels()
	p.sampleValues = make([]float64, n*p.dim)
	p.histograms = make([]float64, p.bins*n*p.dim)
	p.covFactors = make([]float64, n*p.covDim())
	p.denoised = make([]float64, n*p.dim)
}

// init populates the finest pyramid level directly from the accumulated
// sample statistics: expected values are sums divided by the sample count,
// covariance factors are the unbiased sample covariance of the mean, and
// histograms are copied per bin into the bin-major layout.
func (p *parameters) init(exec Executor, samples, bins int, src SampleSource) {
	if samples < 2 {
		panic("denoiser: parameter init needs at least two samples per pixel")
	}

	width, height := src.Resolution()
	p.res = image.Pt(width, height)
	p.samples = samples
	p.bins = bins
	p.dim = src.Channels()
	p.alloc()

	sums := src.SampleTable()
	squares := src.SampleSquaredTable()
	factors := src.CovarianceFactorTable()
	histograms := src.HistogramTable()
	numFactors := src.NumCovarianceFactors()

	n := p.numPixels()
	dim := p.dim
	covDim := p.covDim()

	k := 1.0 / float64(samples)
	k1 := 1.0 / float64(samples-1)

	exec.ParallelFor(n, func(start, end int) {
		for pixel := start; pixel < end; pixel++ {
			sum := sums[pixel*dim : (pixel+1)*dim]

			value := p.sampleValues[pixel*dim : (pixel+1)*dim]
			for c := 0; c < dim; c++ {
				value[c] = k * sum[c]
			}

			square := squares[pixel*dim : (pixel+1)*dim]
			cross := factors[pixel*numFactors : (pixel+1)*numFactors]
			cov := p.covFactors[pixel*covDim : (pixel+1)*covDim]
			for offset, a := 0, 0; a < dim; a++ {
				for b := a; b < dim; b++ {
					m := square[a]
					if a != b {
						m = cross[src.FactorIndex(a)+(b-a)-1]
					}
					cov[offset] = k * k1 * (m - k*sum[a]*sum[b])
					offset++
				}
			}

			// The histogram layout switches from pixel-major to bin-major.
			for b := 0; b < p.bins; b++ {
				srcBase := (pixel*p.bins + b) * dim
				dstBase := (b*n + pixel) * dim
				copy(p.histograms[dstBase:dstBase+dim], histograms[srcBase:srcBase+dim])
			}
		}
	})
}

// downscaleOf derives this level as the 2x box-filtered average of the level
// above. Each output axis is floor(higher/2), clamped to one pixel.
func (p *parameters) downscaleOf(exec Executor, hi *parameters) {
	p.res = image.Pt(maxInt(hi.res.X/2, 1), maxInt(hi.res.Y/2, 1))
	p.samples = hi.samples
	p.bins = hi.bins
	p.dim = hi.dim
	p.alloc()

	n := p.numPixels()
	hiN := hi.numPixels()

	exec.ParallelFor(n, func(start, end int) {
		downscaleAverage(hi.res, hi.sampleValues, p.res, p.sampleValues, p.dim, start, end)
		for b := 0; b < p.bins; b++ {
			downscaleAverage(hi.res, hi.histograms[b*hiN*p.dim:(b+1)*hiN*p.dim],
				p.res, p.histograms[b*n*p.dim:(b+1)*n*p.dim], p.dim, start, end)
		}
		downscaleAverage(hi.res, hi.covFactors, p.res, p.covFactors, p.covDim(), start, end)
	})
}

// aggregate normalizes every pixel's accumulated denoised value by the number
// of overlapping patches that contributed to it.
func (p *parameters) aggregate(exec Executor, counter []int32) {
	exec.ParallelFor(p.numPixels(), func(start, end int) {
		for pixel := start; pixel < end; pixel++ {
			if counter[pixel] <= 0 {
				panic("denoiser: pixel received no denoised estimates")
			}
			inv := 1.0 / float64(counter[pixel])
			value := p.denoised[pixel*p.dim : (pixel+1)*p.dim]
			for c := range value {
				value[c] *= inv
			}
		}
	})
}

// downscaleAverage box-averages the clamped 2x2 block of the high-resolution
// table into each low-resolution pixel of [start, end).
func downscaleAverage(hiRes image.Point, hiTable []float64, loRes image.Point, loTable []float64, stride, start, end int) {
	for loIndex := start; loIndex < end; loIndex++ {
		loX, loY := loIndex%loRes.X, loIndex/loRes.X
		out := loTable[loIndex*stride : (loIndex+1)*stride]
		for c := range out {
			out[c] = 0
		}
		for offY := 0; offY < 2; offY++ {
			for offX := 0; offX < 2; offX++ {
				hiX := minInt(2*loX+offX, hiRes.X-1)
				hiY := minInt(2*loY+offY, hiRes.Y-1)
				hiIndex := hiY*hiRes.X + hiX
				src := hiTable[hiIndex*stride : (hiIndex+1)*stride]
				for c, v := range src {
					out[c] += v
				}
			}
		}
		for c := range out {
			out[c] *= 0.25
		}
	}
}

// upscaleAdd bilinearly interpolates the low-resolution table and adds the
// result into each high-resolution pixel of [start, end). The interpolation
// weighs the nearest low-resolution 2x2 neighborhood 9/16, 3/16, 3/16, 1/16,
// clamping at the borders.
func upscaleAdd(loRes image.Point, loTable []float64, hiRes image.Point, hiTable []float64, stride, start, end int) {
	const (
		mainWeight     = 9.0 / 16.0
		adjacentWeight = 3.0 / 16.0
		diagonalWeight = 1.0 / 16.0
	)

	for hiIndex := start; hiIndex < end; hiIndex++ {
		hiX, hiY := hiIndex%hiRes.X, hiIndex/hiRes.X

		p1X, p1Y := hiX>>1, hiY>>1
		p2X := nearestNeighbor(hiX, p1X, loRes.X)
		p2Y := nearestNeighbor(hiY, p1Y, loRes.Y)

		main := loTable[(p1Y*loRes.X+p1X)*stride:]
		adjX := loTable[(p1Y*loRes.X+p2X)*stride:]
		adjY := loTable[(p2Y*loRes.X+p1X)*stride:]
		diag := loTable[(p2Y*loRes.X+p2X)*stride:]

		out := hiTable[hiIndex*stride : (hiIndex+1)*stride]
		for c := range out {
			out[c] += mainWeight*main[c] + adjacentWeight*(adjX[c]+adjY[c]) + diagonalWeight*diag[c]
		}
	}
}

// nearestNeighbor picks the second interpolation cell along one axis: the
// cell on the side the high-resolution pixel leans towards, clamped to the
// low-resolution bounds.
func nearestNeighbor(hi, lo, loSize int) int {
	n := lo
	if hi%2 != 0 {
		n = lo + 1
	} else if lo > 0 {
		n = lo - 1
	}
	return minInt(n, loSize-1)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
