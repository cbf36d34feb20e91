package denoiser

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// factorsToMatrix expands an upper-triangular covariance factor vector into
// the full symmetric matrix it represents.
func factorsToMatrix(factors []float64, dim int) *mat.SymDense {
	m := mat.NewSymDense(dim, nil)
	for offset, a := 0, 0; a < dim; a++ {
		for b := a; b < dim; b++ {
			m.SetSym(a, b, factors[offset])
			offset++
		}
	}
	return m
}

// matrixToFactors reads the upper-triangular entries of a symmetric matrix
// back into factor vector form.
func matrixToFactors(m mat.Symmetric, out []float64) {
	dim := m.SymmetricDim()
	for offset, a := 0, 0; a < dim; a++ {
		for b := a; b < dim; b++ {
			out[offset] = m.At(a, b)
			offset++
		}
	}
}

// sumFactors adds two factor vectors element-wise.
func sumFactors(a, b, out []float64) {
	for i := range out {
		out[i] = a[i] + b[i]
	}
}

// invertCovariance inverts the expected patch covariance. The estimator
// assumes a well-conditioned matrix; an ill-conditioned one is reported by
// gonum as mat.Condition with the inverse still computed, which the model
// accepts. Any other failure violates the estimator's precondition.
func invertCovariance(cov *mat.SymDense) *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			panic("denoiser: expected covariance is not invertible")
		}
	}
	return &inv
}

// stageDenoisedValues applies the Wiener correction to every similar
// neighbor's patch pixel and stores the result in the staging table:
//
//	staged = x - prior * inv(cov) * (x - mean)
//
// where prior is the mean intrinsic noise covariance and cov the patch-level
// signal+noise covariance.
func stageDenoisedValues(res image.Point, window *Tile, mask *patchMask, offset image.Point,
	mean []float64, prior, cov *mat.SymDense, values, staging []float64, sc *scratch) {

	inv := invertCovariance(cov)
	dim := len(mean)

	window.Reset()
	for i, n := 0, window.NumPixels(); i < n; i++ {
		neighbor := window.Current()
		if mask.test(window.Index(neighbor)) {
			index := (neighbor.Y+offset.Y)*res.X + (neighbor.X + offset.X)

			x := values[index*dim : (index+1)*dim]
			for c := range x {
				sc.diff[c] = x[c] - mean[c]
			}
			sc.tmpVec.MulVec(inv, sc.diffVec)
			sc.corrVec.MulVec(prior, sc.tmpVec)

			out := staging[index*dim : (index+1)*dim]
			for c := range out {
				out[c] = x[c] - sc.corrVec.AtVec(c)
			}
		}
		window.Next()
	}
}
