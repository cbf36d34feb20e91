package denoiser

import "image"

// histogramDistance accumulates the chi-squared distance between two
// per-channel histogram cells. Only cells with joint mass above one count:
// cells that are (near) empty on both sides carry no information and would
// distort the distance scale, so they are excluded from the normalizer too.
func histogramDistance(lhs, rhs []float64, nonTrivial *int) float64 {
	sum := 0.0
	for c := range lhs {
		a, b := lhs[c], rhs[c]
		if a+b > 1 {
			*nonTrivial++
			d := a - b
			sum += d * d / (a + b)
		}
	}
	return sum
}

// histogramPatchDistance computes the histogram distance between the patches
// centered on the two pixels: the chi-squared statistic summed over all bins
// and all patch pixels, normalized by the number of non-trivial cells.
func (d *BayesianCollaborative) histogramPatchDistance(p *parameters, lhs, rhs image.Point) float64 {
	n := p.numPixels()
	dim := p.dim

	distance := 0.0
	nonTrivial := 0

	patchLHS := d.patchTile(lhs)
	patchRHS := d.patchTile(rhs)

	for b := 0; b < p.bins; b++ {
		binOffset := b * n

		patchLHS.Reset()
		patchRHS.Reset()
		for i, num := 0, patchLHS.NumPixels(); i < num; i++ {
			pl := patchLHS.Current()
			pr := patchRHS.Current()

			indexLHS := binOffset + pl.Y*p.res.X + pl.X
			indexRHS := binOffset + pr.Y*p.res.X + pr.X

			distance += histogramDistance(
				p.histograms[indexLHS*dim:(indexLHS+1)*dim],
				p.histograms[indexRHS*dim:(indexRHS+1)*dim],
				&nonTrivial)

			patchLHS.Next()
			patchRHS.Next()
		}
	}

	if nonTrivial <= 0 {
		panic("denoiser: histogram patches share no non-trivial cells")
	}
	return distance / float64(nonTrivial)
}

// selectSimilarPatches walks the search window around the center pixel and
// flags every neighbor whose patch histogram distance stays at or below the
// configured threshold. The center's distance to itself is zero, so it is
// always flagged. Returns the window tile so callers can reuse its bounds.
func (d *BayesianCollaborative) selectSimilarPatches(p *parameters, center image.Point, mask *patchMask) Tile {
	mask.reset()

	window := d.searchWindow(p.res, center)
	if window.NumPixels() > mask.size {
		panic("denoiser: search window exceeds the similarity mask capacity")
	}

	window.Reset()
	for i, n := 0, window.NumPixels(); i < n; i++ {
		neighbor := window.Current()

		distance := 0.0
		if neighbor != center {
			distance = d.histogramPatchDistance(p, center, neighbor)
		}
		if distance <= d.opts.DistanceThreshold {
			mask.set(window.Index(neighbor))
		}

		window.Next()
	}
	return window
}
