package sampling

import (
	"math"
	"testing"
)

func TestNewValidatesArguments(t *testing.T) {
	type spec struct {
		width    int
		height   int
		channels int
		bins     int
		expErr   error
	}
	specs := []spec{
		spec{0, 4, 3, 8, ErrBadResolution},
		spec{4, 0, 3, 8, ErrBadResolution},
		spec{4, 4, 0, 8, ErrBadChannels},
		spec{4, 4, 3, 0, ErrBadBins},
		spec{4, 4, 3, 8, nil},
	}

	for index, s := range specs {
		_, err := New(s.width, s.height, s.channels, s.bins)
		if err != s.expErr {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
	}
}

func TestTableSizes(t *testing.T) {
	st, err := New(5, 3, 3, 4)
	if err != nil {
		t.Fatal(err)
	}

	n := 5 * 3
	if exp, got := n*3, len(st.SampleTable()); exp != got {
		t.Fatalf("expected sample table length %d; got %d", exp, got)
	}
	if exp, got := n*3, len(st.SampleSquaredTable()); exp != got {
		t.Fatalf("expected squared sample table length %d; got %d", exp, got)
	}
	if exp, got := n*3, len(st.DenoisedTable()); exp != got {
		t.Fatalf("expected denoised table length %d; got %d", exp, got)
	}
	if exp, got := n*st.NumCovarianceFactors(), len(st.CovarianceFactorTable()); exp != got {
		t.Fatalf("expected covariance factor table length %d; got %d", exp, got)
	}
	if exp, got := n*4*3, len(st.HistogramTable()); exp != got {
		t.Fatalf("expected histogram table length %d; got %d", exp, got)
	}
}

func TestFactorIndexLayout(t *testing.T) {
	// For 4 channels the cross pairs in row-major upper-triangular order are
	// (0,1) (0,2) (0,3) (1,2) (1,3) (2,3).
	st, err := New(1, 1, 4, 2)
	if err != nil {
		t.Fatal(err)
	}

	if st.NumCovarianceFactors() != 6 {
		t.Fatalf("expected 6 covariance factors; got %d", st.NumCovarianceFactors())
	}

	expIndex := []int{0, 3, 5}
	for c, exp := range expIndex {
		if got := st.FactorIndex(c); got != exp {
			t.Fatalf("expected FactorIndex(%d) to be %d; got %d", c, exp, got)
		}
	}
}

func TestAddSampleAccumulatesMoments(t *testing.T) {
	st, err := New(2, 2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}

	st.AddSample(1, 0, []float64{0.5, 0.25, 1.0})
	st.AddSample(1, 0, []float64{0.5, 0.75, 0.0})

	pixel := 1
	base := pixel * 3

	expSum := []float64{1.0, 1.0, 1.0}
	expSq := []float64{0.5, 0.625, 1.0}
	for c := 0; c < 3; c++ {
		if got := st.SampleTable()[base+c]; math.Abs(got-expSum[c]) > 1e-12 {
			t.Fatalf("expected channel %d sum %g; got %g", c, expSum[c], got)
		}
		if got := st.SampleSquaredTable()[base+c]; math.Abs(got-expSq[c]) > 1e-12 {
			t.Fatalf("expected channel %d squared sum %g; got %g", c, expSq[c], got)
		}
	}

	// Cross terms: (0,1) (0,2) (1,2).
	expCross := []float64{0.5*0.25 + 0.5*0.75, 0.5 * 1.0, 0.25 * 1.0}
	factors := st.CovarianceFactorTable()[pixel*st.NumCovarianceFactors():]
	for k, exp := range expCross {
		if math.Abs(factors[k]-exp) > 1e-12 {
			t.Fatalf("expected cross factor %d to be %g; got %g", k, exp, factors[k])
		}
	}
}

func TestAddSampleHistogramBinning(t *testing.T) {
	type spec struct {
		value  float64
		expBin int
	}
	specs := []spec{
		spec{0.0, 0},
		spec{0.24, 0},
		spec{0.25, 1},
		spec{0.99, 3},
		spec{1.0, 3},  // top bin absorbs the upper bound
		spec{1.75, 3}, // and anything above it
		spec{-0.5, 0}, // negatives clamp into the bottom bin
	}

	for index, s := range specs {
		st, err := New(1, 1, 1, 4)
		if err != nil {
			t.Fatal(err)
		}

		st.AddSample(0, 0, []float64{s.value})
		for b := 0; b < 4; b++ {
			exp := 0.0
			if b == s.expBin {
				exp = 1.0
			}
			if got := st.HistogramTable()[b]; got != exp {
				t.Fatalf("[spec %d] expected bin %d count %g; got %g", index, b, exp, got)
			}
		}
	}
}

func TestNoiseSummaryZeroVariance(t *testing.T) {
	st, err := New(2, 2, 3, 4)
	if err != nil {
		t.Fatal(err)
	}

	value := []float64{0.5, 0.5, 0.5}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			for i := 0; i < 8; i++ {
				st.AddSample(x, y, value)
			}
		}
	}

	mean, stddev := st.NoiseSummary(8)
	if math.Abs(mean) > 1e-9 || math.Abs(stddev) > 1e-9 {
		t.Fatalf("expected zero noise for constant samples; got mean=%g stddev=%g", mean, stddev)
	}
}
