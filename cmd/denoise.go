package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/stat"

	"github.com/vhena/regulus/denoiser"
	"github.com/vhena/regulus/sampling"
	"github.com/vhena/regulus/system"
)

const frameChannels = 3

// Denoise a frame reconstructed from noisy per-pixel sample statistics. The
// input image acts as the converged reference; per-pixel samples are
// synthesized around it with Gaussian noise and accumulated exactly the way
// the path-tracing integrator feeds the statistics tables.
func DenoiseFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	opts := denoiser.Options{
		HistogramBins:     ctx.Int("bins"),
		DistanceThreshold: ctx.Float64("threshold"),
		PatchRadius:       ctx.Int("patch-radius"),
		SearchRadius:      ctx.Int("search-radius"),
		Scales:            ctx.Int("scales"),
		Multiscale:        ctx.Bool("multiscale"),
	}

	if ctx.NArg() != 1 {
		return errors.New("missing input image argument")
	}

	reference, width, height, err := loadImage(ctx.Args().First())
	if err != nil {
		return err
	}
	logger.Noticef("loaded %dx%d reference frame", width, height)

	spp := ctx.Int("spp")
	if spp < 2 {
		return errors.New("need at least 2 samples per pixel")
	}

	stats, err := sampling.New(width, height, frameChannels, opts.HistogramBins)
	if err != nil {
		return err
	}
	accumulateNoisySamples(stats, reference, width, height, spp,
		ctx.Float64("noise"), ctx.Int64("seed"))

	mean, stddev := stats.NoiseSummary(spp)
	logger.Noticef("accumulated %d samples/pixel, standard error %.4f (sd %.4f)", spp, mean, stddev)

	d, err := denoiser.NewBayesianCollaborative(opts)
	if err != nil {
		return err
	}

	pool := system.NewPool(ctx.Int("workers"))
	if err = d.Denoise(pool, spp, stats); err != nil {
		return err
	}

	if err = savePNG(ctx.String("out"), stats.DenoisedTable(), width, height); err != nil {
		return err
	}
	logger.Noticef("wrote denoised frame to %s", ctx.String("out"))

	displayDenoiseStats(d.Stats())
	displayResiduals(reference, stats, spp)
	return nil
}

// accumulateNoisySamples feeds spp Gaussian-perturbed samples per pixel into
// the statistics tables. Samples clamp at zero like radiance estimates do.
func accumulateNoisySamples(stats *sampling.Statistics, reference []float64,
	width, height, spp int, noise float64, seed int64) {

	rng := rand.New(rand.NewSource(seed))
	sample := make([]float64, frameChannels)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := (y*width + x) * frameChannels
			for s := 0; s < spp; s++ {
				for c := 0; c < frameChannels; c++ {
					v := reference[base+c] + rng.NormFloat64()*noise
					if v < 0 {
						v = 0
					}
					sample[c] = v
				}
				stats.AddSample(x, y, sample)
			}
		}
	}
}

func displayDenoiseStats(stats denoiser.Stats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Phase", "Time"})
	for _, phase := range stats.Phases {
		table.Append([]string{phase.Name, fmt.Sprintf("%s", phase.Time)})
	}
	table.SetFooter([]string{"TOTAL", fmt.Sprintf("%s", stats.Total)})

	table.Render()
	logger.Noticef("denoise statistics\n%s", buf.String())
}

// displayResiduals compares both the noisy per-pixel means and the denoised
// output against the reference frame.
func displayResiduals(reference []float64, stats *sampling.Statistics, spp int) {
	noisy := make([]float64, len(reference))
	k := 1.0 / float64(spp)
	for i, sum := range stats.SampleTable() {
		noisy[i] = k * sum
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Frame", "RMSE", "Residual sd"})
	table.Append(residualRow("noisy mean", reference, noisy))
	table.Append(residualRow("denoised", reference, stats.DenoisedTable()))

	table.Render()
	logger.Noticef("residuals vs reference\n%s", buf.String())
}

func residualRow(name string, reference, values []float64) []string {
	squares := make([]float64, len(reference))
	residuals := make([]float64, len(reference))
	for i := range reference {
		r := values[i] - reference[i]
		residuals[i] = r
		squares[i] = r * r
	}
	rmse := math.Sqrt(stat.Mean(squares, nil))
	_, sd := stat.MeanStdDev(residuals, nil)
	return []string{name, fmt.Sprintf("%.5f", rmse), fmt.Sprintf("%.5f", sd)}
}

// loadImage decodes a PNG or TIFF reference frame into a flat RGB float
// table in [0, 1].
func loadImage(path string) ([]float64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]float64, width*height*frameChannels)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*width + x) * frameChannels
			out[base] = float64(r) / 65535.0
			out[base+1] = float64(g) / 65535.0
			out[base+2] = float64(b) / 65535.0
		}
	}
	return out, width, height, nil
}

// savePNG writes a flat RGB float table as an 8-bit PNG, clamping to [0, 1].
func savePNG(path string, values []float64, width, height int) error {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := (y*width + x) * frameChannels
			img.SetNRGBA(x, y, color.NRGBA{
				R: quantize(values[base]),
				G: quantize(values[base+1]),
				B: quantize(values[base+2]),
				A: 0xff,
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return png.Encode(f, img)
}

func quantize(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xff
	}
	return uint8(v*255.0 + 0.5)
}
