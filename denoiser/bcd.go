package denoiser

import (
	"image"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/vhena/regulus/log"
)

// BayesianCollaborative removes Monte-Carlo sampling noise from rendered
// frames by collaboratively filtering patches with statistically similar
// light-transport histograms, using a two-stage empirical-Bayes shrinkage of
// the per-pixel sample covariance.
type BayesianCollaborative struct {
	logger log.Logger
	opts   Options
	stats  Stats
}

// Create a new collaborative denoiser with validated options.
func NewBayesianCollaborative(opts Options) (*BayesianCollaborative, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &BayesianCollaborative{
		logger: log.New("denoiser"),
		opts:   opts,
	}, nil
}

// Get statistics for the last denoise invocation.
func (d *BayesianCollaborative) Stats() Stats {
	return d.stats
}

// Denoise the accumulated sample statistics for one completed render cycle
// batch and write the result into the source's denoised table. The pyramid
// is always fully constructed; Options.Multiscale decides whether every
// level is denoised coarsest-to-finest with a merge step or only the finest
// level is processed.
func (d *BayesianCollaborative) Denoise(exec Executor, sampleCount int, src SampleSource) error {
	switch {
	case exec == nil:
		return ErrNoExecutor
	case src == nil:
		return ErrNoSampleSource
	case sampleCount < 2:
		return ErrBadSampleCount
	case src.HistogramBins() != d.opts.HistogramBins:
		return ErrBinCountMismatch
	}

	width, height := src.Resolution()
	if err := d.checkFrameFits(width, height); err != nil {
		return err
	}

	d.stats = Stats{}
	total := time.Now()

	// Build the pyramid: the finest level from the raw statistics, every
	// coarser level by box-downsampling the one above.
	phase := time.Now()
	pyramid := make([]*parameters, d.opts.Scales)
	pyramid[0] = &parameters{}
	pyramid[0].init(exec, sampleCount, d.opts.HistogramBins, src)
	d.recordPhase("init", phase)

	phase = time.Now()
	for scale := 1; scale < d.opts.Scales; scale++ {
		pyramid[scale] = &parameters{}
		pyramid[scale].downscaleOf(exec, pyramid[scale-1])
	}
	d.recordPhase("pyramid", phase)

	finest := pyramid[0]
	staging := make([]float64, len(finest.sampleValues))
	counter := make([]int32, finest.numPixels())
	marker := newPixelMarker(finest.numPixels())

	iterations := 1
	if d.opts.Multiscale {
		iterations = d.opts.Scales
	}

	var processed *parameters
	for iteration := 0; iteration < iterations; iteration++ {
		scale := 0
		if d.opts.Multiscale {
			scale = d.opts.Scales - (iteration + 1)
		}
		processed = pyramid[scale]

		for i := range counter[:processed.numPixels()] {
			counter[i] = 0
		}
		marker.clear()

		phase = time.Now()
		d.denoiseScale(exec, scale, processed, staging, counter, marker)
		d.recordPhase("denoise", phase)

		phase = time.Now()
		processed.aggregate(exec, counter[:processed.numPixels()])
		if d.opts.Multiscale && iteration > 0 {
			merge(exec, pyramid[scale+1], processed, staging)
		}
		d.recordPhase("aggregate", phase)
	}

	phase = time.Now()
	d.writeBack(exec, processed, src)
	d.recordPhase("write-back", phase)

	d.stats.Total = time.Since(total)
	return nil
}

// checkFrameFits verifies that every processed pyramid level keeps a
// non-empty denoisable region inside the patch border.
func (d *BayesianCollaborative) checkFrameFits(width, height int) error {
	minW, minH := width, height
	if d.opts.Multiscale {
		for scale := 1; scale < d.opts.Scales; scale++ {
			minW = maxInt(minW/2, 1)
			minH = maxInt(minH/2, 1)
		}
	}
	if minW <= 2*d.opts.PatchRadius || minH <= 2*d.opts.PatchRadius {
		return ErrFrameTooSmall
	}
	return nil
}

// denoiseScale drives one full pass over a pyramid level: the denoisable
// region is partitioned into chunks, and the chunks are dispatched tile by
// tile in a fixed order. Chunks belonging to the same tile are far enough
// apart that their search windows cannot overlap, which is what makes the
// concurrent writes into the shared tables race-free.
func (d *BayesianCollaborative) denoiseScale(exec Executor, scale int, p *parameters,
	staging []float64, counter []int32, marker *pixelMarker) {

	layout := d.chunkLayout(p.res)
	order := tileOrder()
	for tileNumber, tilePos := range order {
		d.denoiseChunks(exec, p, layout, tilePos, staging, counter, marker)
		d.logger.Infof("scale %d: tile %d/%d done", scale, tileNumber+1, len(order))
	}
}

// denoiseChunks processes all chunks belonging to one dispatch tile
// concurrently. Within a chunk, pixels already resolved by an earlier tile
// are skipped.
func (d *BayesianCollaborative) denoiseChunks(exec Executor, p *parameters, layout image.Point,
	tilePos image.Point, staging []float64, counter []int32, marker *pixelMarker) {

	exec.ParallelEach(layout.X*layout.Y, func(chunk int) {
		chunkPos := image.Pt(chunk%layout.X, chunk/layout.X)
		tile := d.chunkTile(p.res, chunkPos, tilePos)
		if tile.NumPixels() == 0 {
			return
		}

		mask := newPatchMask(d.windowCapacity())
		sc := newScratch(p.dim, p.covDim())

		tile.Reset()
		for i, n := 0, tile.NumPixels(); i < n; i++ {
			current := tile.Current()
			index := current.Y*p.res.X + current.X
			if !marker.marked(index) {
				d.denoisePixel(p, current, &mask, staging, counter, marker, sc)
			}
			tile.Next()
		}
	})
}

// denoisePixel estimates denoised values for the patches around one pixel.
// With too few similar patches the covariance model is under-determined and
// the simple patch-mean fallback runs instead.
func (d *BayesianCollaborative) denoisePixel(p *parameters, center image.Point, mask *patchMask,
	staging []float64, counter []int32, marker *pixelMarker, sc *scratch) {

	window := d.selectSimilarPatches(p, center, mask)
	similar := mask.count()
	if similar <= d.patchDimension(p.dim) {
		d.denoiseOnlyMainPatch(p, center, &window, mask, similar, counter, sc)
	} else {
		d.denoiseSelectedPatches(p, center, &window, mask, similar, staging, counter, marker, sc)
	}
}

// denoiseOnlyMainPatch averages the raw expected sample values of all
// similar neighbors at every patch offset and accumulates the result into
// the main patch only.
func (d *BayesianCollaborative) denoiseOnlyMainPatch(p *parameters, center image.Point,
	window *Tile, mask *patchMask, similar int, counter []int32, sc *scratch) {

	dim := p.dim
	side := 2*d.opts.PatchRadius + 1

	for patchNumber := 0; patchNumber < d.numPatchPixels(); patchNumber++ {
		offset := image.Pt(patchNumber%side-d.opts.PatchRadius, patchNumber/side-d.opts.PatchRadius)

		empiricalMean(p.res, window, mask, similar, offset, p.sampleValues, sc.mean)

		target := (center.Y+offset.Y)*p.res.X + (center.X + offset.X)
		out := p.denoised[target*dim : (target+1)*dim]
		for c := range out {
			out[c] += sc.mean[c]
		}
		counter[target]++
	}
}

// denoiseSelectedPatches runs the two-stage empirical-Bayes shrinkage for
// every patch offset and accumulates each similar neighbor's staged value at
// its true pixel location. When the offset lands on the patch center the
// target pixel is marked resolved so later chunks skip it at this scale.
func (d *BayesianCollaborative) denoiseSelectedPatches(p *parameters, center image.Point,
	window *Tile, mask *patchMask, similar int, staging []float64, counter []int32,
	marker *pixelMarker, sc *scratch) {

	dim := p.dim
	side := 2*d.opts.PatchRadius + 1

	for patchNumber := 0; patchNumber < d.numPatchPixels(); patchNumber++ {
		offset := image.Pt(patchNumber%side-d.opts.PatchRadius, patchNumber/side-d.opts.PatchRadius)

		// Stage 1: Wiener correction with the empirical signal+noise
		// covariance of the raw sample values.
		empiricalMean(p.res, window, mask, similar, offset, p.covFactors, sc.priorFactors)
		prior := factorsToMatrix(sc.priorFactors, dim)

		empiricalMean(p.res, window, mask, similar, offset, p.sampleValues, sc.mean)
		empiricalCovariance(p.res, window, mask, similar, offset, p.sampleValues, sc.mean, sc.covFactors)
		// TODO: clamp the empirical covariance before inverting; with few
		// patches it can drop below the noise prior.
		cov := factorsToMatrix(sc.covFactors, dim)
		stageDenoisedValues(p.res, window, mask, offset, sc.mean, prior, cov, p.sampleValues, staging, sc)

		// Stage 2: re-estimate the signal covariance from the partially
		// denoised values and repeat the correction with the prior added
		// back on top.
		empiricalMean(p.res, window, mask, similar, offset, staging, sc.mean)
		empiricalCovariance(p.res, window, mask, similar, offset, staging, sc.mean, sc.covFactors)
		sumFactors(sc.covFactors, sc.priorFactors, sc.totalFactors)
		cov = factorsToMatrix(sc.totalFactors, dim)
		stageDenoisedValues(p.res, window, mask, offset, sc.mean, prior, cov, p.sampleValues, staging, sc)

		window.Reset()
		for i, n := 0, window.NumPixels(); i < n; i++ {
			neighbor := window.Current()
			if mask.test(window.Index(neighbor)) {
				target := (neighbor.Y+offset.Y)*p.res.X + (neighbor.X + offset.X)

				staged := staging[target*dim : (target+1)*dim]
				out := p.denoised[target*dim : (target+1)*dim]
				for c := range out {
					out[c] += staged[c]
				}
				counter[target]++
				if offset == image.Pt(0, 0) {
					marker.mark(target)
				}
			}
			window.Next()
		}
	}
}

// empiricalMean averages the table entries of all similar neighbors at the
// given patch offset. The stride is taken from the output slice.
func empiricalMean(res image.Point, window *Tile, mask *patchMask, similar int,
	offset image.Point, table []float64, out []float64) {

	if similar <= 0 {
		panic("denoiser: empirical mean over zero similar patches")
	}

	stride := len(out)
	for c := range out {
		out[c] = 0
	}

	window.Reset()
	for i, n := 0, window.NumPixels(); i < n; i++ {
		neighbor := window.Current()
		if mask.test(window.Index(neighbor)) {
			index := (neighbor.Y+offset.Y)*res.X + (neighbor.X + offset.X)
			src := table[index*stride : (index+1)*stride]
			for c, v := range src {
				out[c] += v
			}
		}
		window.Next()
	}

	inv := 1.0 / float64(similar)
	for c := range out {
		out[c] *= inv
	}
}

// empiricalCovariance estimates the unbiased upper-triangular covariance
// factors of the table values across all similar neighbors at the given
// patch offset.
func empiricalCovariance(res image.Point, window *Tile, mask *patchMask, similar int,
	offset image.Point, table, mean []float64, out []float64) {

	if similar < 2 {
		panic("denoiser: empirical covariance needs at least two similar patches")
	}

	dim := len(mean)
	for c := range out {
		out[c] = 0
	}

	window.Reset()
	for i, n := 0, window.NumPixels(); i < n; i++ {
		neighbor := window.Current()
		if mask.test(window.Index(neighbor)) {
			index := (neighbor.Y+offset.Y)*res.X + (neighbor.X + offset.X)
			value := table[index*dim : (index+1)*dim]
			for k, a := 0, 0; a < dim; a++ {
				for b := a; b < dim; b++ {
					out[k] += (value[a] - mean[a]) * (value[b] - mean[b])
					k++
				}
			}
		}
		window.Next()
	}

	inv := 1.0 / float64(similar-1)
	for c := range out {
		out[c] *= inv
	}
}

// merge folds an already-denoised coarser level into the freshly denoised
// finer level, keeping the finer level's detail: the coarse denoised signal
// replaces the box-downsampled version of the fine one.
func merge(exec Executor, lo, hi *parameters, staging []float64) {
	dim := hi.dim
	hiN := hi.numPixels()
	loN := lo.numPixels()

	exec.ParallelFor(hiN*dim, func(start, end int) {
		for i := start; i < end; i++ {
			staging[i] = -hi.denoised[i]
		}
	})

	// The coarse sample table is no longer needed at this point; reuse it to
	// hold the downsampled negated fine signal.
	exec.ParallelFor(loN, func(start, end int) {
		downscaleAverage(hi.res, staging, lo.res, lo.sampleValues, dim, start, end)
	})

	exec.ParallelFor(hiN, func(start, end int) {
		upscaleAdd(lo.res, lo.denoised, hi.res, hi.denoised, dim, start, end)
		upscaleAdd(lo.res, lo.sampleValues, hi.res, hi.denoised, dim, start, end)
	})
}

// writeBack copies the processed level's denoised values into the sample
// source's output table, addressed at the source's own resolution.
func (d *BayesianCollaborative) writeBack(exec Executor, p *parameters, src SampleSource) {
	width, _ := src.Resolution()
	dst := src.DenoisedTable()
	dim := p.dim

	exec.ParallelFor(p.numPixels(), func(start, end int) {
		for pixel := start; pixel < end; pixel++ {
			x, y := pixel%p.res.X, pixel/p.res.X
			dstIndex := y*width + x
			copy(dst[dstIndex*dim:(dstIndex+1)*dim], p.denoised[pixel*dim:(pixel+1)*dim])
		}
	})
}

func (d *BayesianCollaborative) recordPhase(name string, start time.Time) {
	d.stats.Phases = append(d.stats.Phases, PhaseStat{Name: name, Time: time.Since(start)})
}

// numPatchPixels returns the pixel count of a patch footprint.
func (d *BayesianCollaborative) numPatchPixels() int {
	side := 2*d.opts.PatchRadius + 1
	return side * side
}

// windowCapacity returns the worst-case search window pixel count, which
// sizes the similarity masks.
func (d *BayesianCollaborative) windowCapacity() int {
	side := 2*d.opts.SearchRadius + 1
	return side * side
}

// patchDimension returns the total pixel-channel dimensionality of a patch;
// at or below this many similar patches the covariance fit is
// under-determined.
func (d *BayesianCollaborative) patchDimension(dim int) int {
	return dim * d.numPatchPixels()
}

// chunkSize returns the side length of the square scheduling chunks.
func (d *BayesianCollaborative) chunkSize() int {
	return 3 * d.opts.SearchRadius
}

// chunkLayout returns how many chunks cover the denoisable region (the frame
// minus the patch border) along each axis.
func (d *BayesianCollaborative) chunkLayout(res image.Point) image.Point {
	usableW := res.X - 2*d.opts.PatchRadius
	usableH := res.Y - 2*d.opts.PatchRadius

	size := d.chunkSize()
	return image.Pt((usableW+size-1)/size, (usableH+size-1)/size)
}

// chunkTile returns the pixel tile of one chunk cell for the given dispatch
// tile offset, clamped to the denoisable region.
func (d *BayesianCollaborative) chunkTile(res image.Point, chunkPos, tilePos image.Point) Tile {
	patchR := d.opts.PatchRadius
	searchR := d.opts.SearchRadius
	size := d.chunkSize()

	begin := image.Pt(
		patchR+size*chunkPos.X+searchR*tilePos.X,
		patchR+size*chunkPos.Y+searchR*tilePos.Y,
	)
	end := image.Pt(begin.X+searchR, begin.Y+searchR)

	limit := image.Pt(res.X-patchR, res.Y-patchR)
	begin = image.Pt(minInt(begin.X, limit.X), minInt(begin.Y, limit.Y))
	end = image.Pt(minInt(end.X, limit.X), minInt(end.Y, limit.Y))

	return NewTile(image.Rectangle{Min: begin, Max: end})
}

// patchTile returns the patch footprint tile around a center pixel.
func (d *BayesianCollaborative) patchTile(center image.Point) Tile {
	r := d.opts.PatchRadius
	return NewTile(image.Rect(center.X-r, center.Y-r, center.X+r+1, center.Y+r+1))
}

// searchWindow returns the search window tile around a center pixel, clamped
// so that every window pixel keeps a full patch inside the frame.
func (d *BayesianCollaborative) searchWindow(res image.Point, center image.Point) Tile {
	patchR := d.opts.PatchRadius
	searchR := d.opts.SearchRadius

	begin := image.Pt(
		maxInt(patchR+searchR, center.X)-searchR,
		maxInt(patchR+searchR, center.Y)-searchR,
	)
	end := image.Pt(
		minInt(res.X-patchR, center.X+searchR+1),
		minInt(res.Y-patchR, center.Y+searchR+1),
	)
	return NewTile(image.Rectangle{Min: begin, Max: end})
}

// tileOrder returns the fixed dispatch order of the interleaved tile
// offsets. Each chunk is split into a 3x3 grid of cells; one tile processes
// the same cell of every chunk, spacing concurrent work 2*searchRadius+1
// pixels apart.
func tileOrder() [9]image.Point {
	return [9]image.Point{
		{0, 0}, {1, 0}, {2, 0},
		{0, 1}, {1, 1}, {2, 1},
		{0, 2}, {1, 2}, {2, 2},
	}
}

// scratch holds the per-goroutine buffers of the shrinkage estimator.
type scratch struct {
	mean         []float64
	priorFactors []float64
	covFactors   []float64
	totalFactors []float64

	diff    []float64
	diffVec *mat.VecDense
	tmpVec  *mat.VecDense
	corrVec *mat.VecDense
}

func newScratch(dim, covDim int) *scratch {
	diff := make([]float64, dim)
	return &scratch{
		mean:         make([]float64, dim),
		priorFactors: make([]float64, covDim),
		covFactors:   make([]float64, covDim),
		totalFactors: make([]float64, covDim),
		diff:         diff,
		diffVec:      mat.NewVecDense(dim, diff),
		tmpVec:       mat.NewVecDense(dim, nil),
		corrVec:      mat.NewVecDense(dim, nil),
	}
}
