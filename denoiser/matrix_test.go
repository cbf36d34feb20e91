package denoiser

import (
	"image"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestFactorMatrixRoundTrip(t *testing.T) {
	// 3 covers RGB, 8 stands in for a spectral channel count.
	for _, dim := range []int{3, 8} {
		covDim := dim * (dim + 1) / 2
		factors := make([]float64, covDim)
		for i := range factors {
			factors[i] = float64(i+1) * 0.25
		}

		m := factorsToMatrix(factors, dim)

		// The expanded matrix must be symmetric.
		for a := 0; a < dim; a++ {
			for b := 0; b < dim; b++ {
				if m.At(a, b) != m.At(b, a) {
					t.Fatalf("dim %d: expected symmetric matrix at (%d,%d)", dim, a, b)
				}
			}
		}

		restored := make([]float64, covDim)
		matrixToFactors(m, restored)
		for i, exp := range factors {
			if restored[i] != exp {
				t.Fatalf("dim %d: expected factor %d to round-trip to %g; got %g", dim, i, exp, restored[i])
			}
		}
	}
}

func TestInvertCovarianceIdentity(t *testing.T) {
	dim := 3
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		cov.SetSym(i, i, 2.0)
	}

	inv := invertCovariance(cov)
	for i := 0; i < dim; i++ {
		if got := inv.At(i, i); math.Abs(got-0.5) > 1e-12 {
			t.Fatalf("expected inverse diagonal 0.5; got %g", got)
		}
	}
}

func TestStageDenoisedValuesFullShrinkage(t *testing.T) {
	// With the prior equal to the expected covariance the Wiener correction
	// collapses every value onto the mean.
	const dim = 1
	res := image.Pt(3, 1)

	window := NewTile(image.Rect(0, 0, 3, 1))
	mask := newPatchMask(window.NumPixels())
	for i := 0; i < window.NumPixels(); i++ {
		mask.set(i)
	}

	values := []float64{1, 2, 6}
	mean := []float64{3}

	variance := mat.NewSymDense(dim, []float64{7})
	prior := mat.NewSymDense(dim, []float64{7})

	staging := make([]float64, len(values))
	sc := newScratch(dim, 1)
	stageDenoisedValues(res, &window, &mask, image.Pt(0, 0), mean, prior, variance, values, staging, sc)

	for i := range staging {
		if math.Abs(staging[i]-mean[0]) > 1e-12 {
			t.Fatalf("expected staged value %d to collapse to the mean %g; got %g", i, mean[0], staging[i])
		}
	}
}

func TestStageDenoisedValuesZeroPrior(t *testing.T) {
	// A zero noise prior leaves the values untouched.
	const dim = 1
	res := image.Pt(3, 1)

	window := NewTile(image.Rect(0, 0, 3, 1))
	mask := newPatchMask(window.NumPixels())
	for i := 0; i < window.NumPixels(); i++ {
		mask.set(i)
	}

	values := []float64{1, 2, 6}
	mean := []float64{3}

	variance := mat.NewSymDense(dim, []float64{7})
	prior := mat.NewSymDense(dim, []float64{0})

	staging := make([]float64, len(values))
	sc := newScratch(dim, 1)
	stageDenoisedValues(res, &window, &mask, image.Pt(0, 0), mean, prior, variance, values, staging, sc)

	for i := range staging {
		if math.Abs(staging[i]-values[i]) > 1e-12 {
			t.Fatalf("expected staged value %d to stay at %g; got %g", i, values[i], staging[i])
		}
	}
}
