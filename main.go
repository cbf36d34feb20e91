package main

import (
	"os"

	"github.com/urfave/cli"

	"github.com/vhena/regulus/cmd"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "regulus"
	app.Usage = "denoise path-traced frames using collaborative patch statistics"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "denoise",
			Usage: "denoise a frame from noisy per-pixel sample statistics",
			Description: `
Load a reference frame, synthesize noisy per-pixel samples around it the way
a path-tracing integrator would accumulate them, then run the multiscale
Bayesian collaborative denoiser over the collected statistics and write the
denoised frame.`,
			ArgsUsage: "frame.png|frame.tiff",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "spp",
					Value: 16,
					Usage: "samples per pixel",
				},
				cli.Float64Flag{
					Name:  "noise",
					Value: 0.1,
					Usage: "standard deviation of the per-sample noise",
				},
				cli.Int64Flag{
					Name:  "seed",
					Value: 1,
					Usage: "seed for the sample noise generator",
				},
				cli.IntFlag{
					Name:  "bins",
					Value: 16,
					Usage: "light-transport histogram bins per pixel",
				},
				cli.Float64Flag{
					Name:  "threshold",
					Value: 1.0,
					Usage: "histogram distance threshold for patch similarity",
				},
				cli.IntFlag{
					Name:  "patch-radius",
					Value: 1,
					Usage: "patch footprint radius",
				},
				cli.IntFlag{
					Name:  "search-radius",
					Value: 6,
					Usage: "search window radius",
				},
				cli.IntFlag{
					Name:  "scales",
					Value: 2,
					Usage: "number of pyramid scales",
				},
				cli.BoolFlag{
					Name:  "multiscale",
					Usage: "denoise every pyramid scale coarsest to finest",
				},
				cli.IntFlag{
					Name:  "workers",
					Value: 0,
					Usage: "worker count (0 selects one per CPU)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "denoised.png",
					Usage: "image filename for the denoised frame",
				},
			},
			Action: cmd.DenoiseFrame,
		},
	}

	app.Run(os.Args)
}
