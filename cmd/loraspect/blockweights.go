package main

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loraspect/internal/logger"
	"github.com/samcharles93/loraspect/internal/report"
)

func blockWeightsCmd() *cli.Command {
	var (
		file         string
		outputFormat string
		barWidth     int
		noProgress   bool
	)

	return &cli.Command{
		Name:  "block-weights",
		Usage: "Compute norms of every reconstructed weight and average them per block",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .safetensors file",
				Required:    true,
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "output-format",
				Aliases:     []string{"o"},
				Usage:       "output format (json, text)",
				Value:       report.FormatJSON,
				Destination: &outputFormat,
			},
			&cli.IntFlag{
				Name:        "bar-width",
				Usage:       "width of the block chart in text output",
				Value:       report.DefaultBarWidth,
				Destination: &barWidth,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyBlockWeightsConfig(cmd, configFromContext(ctx), &outputFormat, &barWidth)
			if outputFormat != report.FormatJSON && outputFormat != report.FormatText {
				return fmt.Errorf("unsupported output format %q (want json or text)", outputFormat)
			}

			f, err := openAdapter(ctx, cmd, file)
			if err != nil {
				return err
			}
			defer func() { _ = f.Unload() }()
			if !f.IsLoaded() {
				return fmt.Errorf("%s: %w", f.Filename(), f.LoadErr())
			}

			bar := newProgressBar(errWriter(cmd), len(f.BaseNames()), !noProgress && stderrIsTTY())
			r, err := report.Build(ctx, f, bar)
			_ = bar.Finish()
			if err != nil {
				return err
			}
			for _, fail := range r.Failures {
				log.Warn("weight skipped", "name", fail.Name, "error", fail.Error)
			}
			log.Debug("block weights computed",
				"weights", len(r.Norms),
				"blocks", len(r.Blocks),
				"failures", len(r.Failures),
				"cached", f.CacheLen(),
			)
			return report.Write(outWriter(cmd), r, outputFormat, barWidth)
		},
	}
}

func newProgressBar(w io.Writer, total int, visible bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionSetDescription("weights"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
}
