package denoiser

import (
	"image"
	"math"
	"testing"

	"github.com/vhena/regulus/sampling"
	"github.com/vhena/regulus/system"
)

func TestNewBayesianCollaborativeValidatesOptions(t *testing.T) {
	type spec struct {
		mutate func(*Options)
		expErr error
	}
	specs := []spec{
		spec{func(o *Options) { o.HistogramBins = 0 }, ErrBadBinCount},
		spec{func(o *Options) { o.DistanceThreshold = -0.1 }, ErrBadThreshold},
		spec{func(o *Options) { o.PatchRadius = -1 }, ErrBadPatchRadius},
		spec{func(o *Options) { o.SearchRadius = 0 }, ErrBadSearchRadius},
		spec{func(o *Options) { o.Scales = 0 }, ErrBadScaleCount},
		spec{func(o *Options) {}, nil},
	}

	for index, s := range specs {
		opts := defaultTestOptions()
		s.mutate(&opts)

		_, err := NewBayesianCollaborative(opts)
		if err != s.expErr {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
	}
}

func TestDenoiseValidatesArguments(t *testing.T) {
	d, err := NewBayesianCollaborative(defaultTestOptions())
	if err != nil {
		t.Fatal(err)
	}

	src, err := sampling.New(8, 8, 3, 4)
	if err != nil {
		t.Fatal(err)
	}

	if err = d.Denoise(nil, 16, src); err != ErrNoExecutor {
		t.Fatalf("expected ErrNoExecutor; got %v", err)
	}
	if err = d.Denoise(serialExec{}, 16, nil); err != ErrNoSampleSource {
		t.Fatalf("expected ErrNoSampleSource; got %v", err)
	}
	if err = d.Denoise(serialExec{}, 1, src); err != ErrBadSampleCount {
		t.Fatalf("expected ErrBadSampleCount; got %v", err)
	}

	mismatched, err := sampling.New(8, 8, 3, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err = d.Denoise(serialExec{}, 16, mismatched); err != ErrBinCountMismatch {
		t.Fatalf("expected ErrBinCountMismatch; got %v", err)
	}

	tiny, err := sampling.New(2, 2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err = d.Denoise(serialExec{}, 16, tiny); err != ErrFrameTooSmall {
		t.Fatalf("expected ErrFrameTooSmall; got %v", err)
	}
}

func TestChunkTilingPartitionsDenoisableRegion(t *testing.T) {
	opts := defaultTestOptions()
	opts.PatchRadius = 2
	opts.SearchRadius = 3
	d, err := NewBayesianCollaborative(opts)
	if err != nil {
		t.Fatal(err)
	}

	res := image.Pt(32, 20)
	layout := d.chunkLayout(res)

	coverage := make([]int, res.X*res.Y)
	for _, tilePos := range tileOrder() {
		// Chunk cells of the same dispatch tile must keep their search
		// windows disjoint.
		var cells []image.Rectangle

		for chunk := 0; chunk < layout.X*layout.Y; chunk++ {
			chunkPos := image.Pt(chunk%layout.X, chunk/layout.X)
			tile := d.chunkTile(res, chunkPos, tilePos)
			if tile.NumPixels() == 0 {
				continue
			}
			cells = append(cells, tile.bounds)

			tile.Reset()
			for i, n := 0, tile.NumPixels(); i < n; i++ {
				p := tile.Current()
				coverage[p.Y*res.X+p.X]++
				tile.Next()
			}
		}

		for i := 0; i < len(cells); i++ {
			for j := i + 1; j < len(cells); j++ {
				wi := cells[i].Inset(-opts.SearchRadius)
				wj := cells[j].Inset(-opts.SearchRadius)
				if wi.Overlaps(wj) {
					t.Fatalf("tile %v: search windows of cells %v and %v overlap", tilePos, cells[i], cells[j])
				}
			}
		}
	}

	usable := image.Rect(opts.PatchRadius, opts.PatchRadius, res.X-opts.PatchRadius, res.Y-opts.PatchRadius)
	for y := 0; y < res.Y; y++ {
		for x := 0; x < res.X; x++ {
			exp := 0
			if image.Pt(x, y).In(usable) {
				exp = 1
			}
			if got := coverage[y*res.X+x]; got != exp {
				t.Fatalf("expected pixel (%d,%d) to be covered %d times; got %d", x, y, exp, got)
			}
		}
	}
}

func TestDenoiseUniformFrame(t *testing.T) {
	// A noise-free uniform frame must come out unchanged: every window pixel
	// is similar, the mean fallback averages identical values.
	src, err := sampling.New(4, 4, 3, 4)
	if err != nil {
		t.Fatal(err)
	}

	value := []float64{0.5, 0.25, 0.75}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			for s := 0; s < 16; s++ {
				src.AddSample(x, y, value)
			}
		}
	}

	d, err := NewBayesianCollaborative(defaultTestOptions())
	if err != nil {
		t.Fatal(err)
	}

	if err = d.Denoise(system.NewPool(4), 16, src); err != nil {
		t.Fatal(err)
	}

	denoised := src.DenoisedTable()
	for pixel := 0; pixel < 16; pixel++ {
		for c := 0; c < 3; c++ {
			if got := denoised[pixel*3+c]; math.Abs(got-value[c]) > 1e-12 {
				t.Fatalf("expected pixel %d channel %d to stay %g; got %g", pixel, c, value[c], got)
			}
		}
	}

	stats := d.Stats()
	if len(stats.Phases) == 0 || stats.Total <= 0 {
		t.Fatalf("expected populated denoise stats; got %+v", stats)
	}
}

func TestDenoiseRejectedNeighborsFallBackToMainPatch(t *testing.T) {
	// Distinct per-pixel values with a zero similarity threshold: every
	// pixel is similar only to itself, so the mean fallback must reproduce
	// the per-pixel sample means exactly.
	const w, h, bins = 6, 6, 36

	src, err := sampling.New(w, h, 1, bins)
	if err != nil {
		t.Fatal(err)
	}

	means := make([]float64, w*h)
	for pixel := 0; pixel < w*h; pixel++ {
		means[pixel] = (float64(pixel) + 0.5) / float64(w*h)
		for s := 0; s < 2; s++ {
			src.AddSample(pixel%w, pixel/w, []float64{means[pixel]})
		}
	}

	opts := Options{
		HistogramBins:     bins,
		DistanceThreshold: 0,
		PatchRadius:       1,
		SearchRadius:      1,
		Scales:            1,
	}
	d, err := NewBayesianCollaborative(opts)
	if err != nil {
		t.Fatal(err)
	}

	if err = d.Denoise(serialExec{}, 2, src); err != nil {
		t.Fatal(err)
	}

	for pixel, exp := range means {
		if got := src.DenoisedTable()[pixel]; math.Abs(got-exp) > 1e-12 {
			t.Fatalf("expected pixel %d to keep its mean %g; got %g", pixel, exp, got)
		}
	}
}

func TestDenoiseShrinkagePathWithZeroPrior(t *testing.T) {
	// Noise-free but spatially varying samples: every per-pixel covariance
	// is zero, so the two-stage shrinkage applies no correction and the
	// output equals the per-pixel means. With a single histogram bin every
	// window pixel is similar, which forces the shrinkage path.
	const w, h = 7, 7

	src, err := sampling.New(w, h, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	means := make([]float64, w*h)
	for pixel := 0; pixel < w*h; pixel++ {
		means[pixel] = float64(pixel+1) / 100.0
		for s := 0; s < 2; s++ {
			src.AddSample(pixel%w, pixel/w, []float64{means[pixel]})
		}
	}

	opts := Options{
		HistogramBins:     1,
		DistanceThreshold: 0.5,
		PatchRadius:       0,
		SearchRadius:      2,
		Scales:            1,
	}
	d, err := NewBayesianCollaborative(opts)
	if err != nil {
		t.Fatal(err)
	}

	if err = d.Denoise(serialExec{}, 2, src); err != nil {
		t.Fatal(err)
	}

	for pixel, exp := range means {
		if got := src.DenoisedTable()[pixel]; math.Abs(got-exp) > 1e-12 {
			t.Fatalf("expected pixel %d to keep its mean %g; got %g", pixel, exp, got)
		}
	}
}

func TestDenoiseMultiscaleFlatFrame(t *testing.T) {
	// The coarse-to-fine merge preserves constants, so a flat frame must
	// survive a full multiscale run unchanged.
	const w, h = 16, 16

	src, err := sampling.New(w, h, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	for pixel := 0; pixel < w*h; pixel++ {
		for s := 0; s < 4; s++ {
			src.AddSample(pixel%w, pixel/w, []float64{0.5})
		}
	}

	opts := Options{
		HistogramBins:     4,
		DistanceThreshold: 1.0,
		PatchRadius:       1,
		SearchRadius:      1,
		Scales:            2,
		Multiscale:        true,
	}
	d, err := NewBayesianCollaborative(opts)
	if err != nil {
		t.Fatal(err)
	}

	if err = d.Denoise(system.NewPool(2), 4, src); err != nil {
		t.Fatal(err)
	}

	for pixel := 0; pixel < w*h; pixel++ {
		if got := src.DenoisedTable()[pixel]; math.Abs(got-0.5) > 1e-12 {
			t.Fatalf("expected pixel %d to stay 0.5; got %g", pixel, got)
		}
	}
}
