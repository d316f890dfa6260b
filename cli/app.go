// Package cli contains the photocloud command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagOutput   = "output"
	flagNoSFM    = "no-sfm"
	flagDetector = "detector"
	flagASCII    = "ascii"
	flagListen   = "listen"
)

var app = &cli.App{
	Name:            "photocloud",
	Usage:           "turn photos into 3D point clouds",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "reconstruct",
			Usage:     "reconstruct a point cloud from one or more images",
			ArgsUsage: "<file|directory|glob>...",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    flagOutput,
					Aliases: []string{"o"},
					Value:   "output.ply",
					Usage:   "path of the ply file to write",
				},
				&cli.BoolFlag{
					Name:  flagNoSFM,
					Usage: "skip multi-view reconstruction and use monocular depth on the first image",
				},
				&cli.StringFlag{
					Name:  flagDetector,
					Usage: "feature detector to use for multi-view reconstruction",
				},
				&cli.BoolFlag{
					Name:  flagASCII,
					Usage: "write an ascii ply file instead of a binary one",
				},
			},
			Action: ReconstructAction,
		},
		{
			Name:  "serve",
			Usage: "run the upload API and the reconstruction workers",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagListen,
					Usage: "address to listen on, overrides the config",
				},
			},
			Action: ServeAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
