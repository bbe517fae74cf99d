package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loraspect/internal/logger"
	"github.com/samcharles93/loraspect/internal/lora"
)

// openAdapter resolves a --file argument and opens it with the load flags.
func openAdapter(ctx context.Context, cmd *cli.Command, file string) (*lora.File, error) {
	applyLoadConfig(cmd, configFromContext(ctx))
	path, err := resolveAdapterPath(file)
	if err != nil {
		return nil, err
	}
	return lora.OpenFile(path,
		lora.WithEager(eager),
		lora.WithCacheSize(cacheSize),
		lora.WithLogger(logger.FromContext(ctx)),
	)
}

func inspectCmd() *cli.Command {
	var (
		file      string
		showKeys  bool
		showBases bool
		weight    string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Summarise a LoRA safetensors file",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to .safetensors file",
				Required:    true,
				Destination: &file,
			},
			&cli.BoolFlag{
				Name:        "keys",
				Usage:       "list every tensor key with its shape",
				Destination: &showKeys,
			},
			&cli.BoolFlag{
				Name:        "base-names",
				Usage:       "list module base names",
				Destination: &showBases,
			},
			&cli.StringFlag{
				Name:        "weight",
				Usage:       "print statistics of one reconstructed weight (by base name)",
				Destination: &weight,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := openAdapter(ctx, cmd, file)
			if err != nil {
				return err
			}
			defer func() { _ = f.Unload() }()

			w := outWriter(cmd)
			size := int64(-1)
			if st, err := os.Stat(expandHome(file)); err == nil {
				size = st.Size()
			}
			if err := writeSummary(w, f, size); err != nil {
				return err
			}
			if showKeys {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "Tensors:")
				for _, k := range f.Keys() {
					shape, err := f.Shape(k)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "  %s %v\n", k, shape)
				}
			}
			if showBases {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "Base names:")
				for _, b := range f.BaseNames() {
					fmt.Fprintf(w, "  %s\n", b)
				}
			}
			if weight != "" {
				s, err := f.Statistics(weight)
				if err != nil {
					return err
				}
				fmt.Fprintln(w)
				fmt.Fprintf(w, "Weight %s %v:\n", weight, s.Shape)
				fmt.Fprintf(w, "  l1: %g  l2: %g  matrix: %g\n", s.L1, s.L2, s.Matrix)
				fmt.Fprintf(w, "  max: %g  min: %g  mean: %g  median: %g\n", s.Max, s.Min, s.Mean, s.Median)
				fmt.Fprintf(w, "  std dev: %g  variance: %g  skewness: %g  sparsity: %g\n", s.StdDev, s.Variance, s.Skewness, s.Sparsity)
			}
			return nil
		},
	}
}

func writeSummary(w io.Writer, f *lora.File, size int64) error {
	fmt.Fprintf(w, "File:         %s", f.Filename())
	if size >= 0 {
		fmt.Fprintf(w, " (%s)", humanize.Bytes(uint64(size)))
	}
	fmt.Fprintln(w)

	md := f.Metadata()
	fmt.Fprintf(w, "Metadata:     %s\n", plural(md.Len(), "entry", "entries"))
	if m, ok := md.NetworkModule(); ok {
		fmt.Fprintf(w, "Module:       %s\n", m)
	}
	if args, err := md.NetworkArgs(); err == nil && args != nil && args.Algo != "" {
		fmt.Fprintf(w, "Algorithm:    %s\n", args.Algo)
	}
	switch nt, ok, err := f.NetworkType(); {
	case err != nil:
		fmt.Fprintf(w, "Network type: %v\n", err)
	case ok:
		fmt.Fprintf(w, "Network type: %s\n", nt)
	default:
		fmt.Fprintln(w, "Network type: unknown")
	}
	if wd, ok, err := md.WeightDecomposition(); err == nil && ok {
		fmt.Fprintf(w, "Decompose:    %s\n", wd)
	}

	if !f.IsLoaded() {
		fmt.Fprintf(w, "Tensors:      not loaded (%v)\n", f.LoadErr())
		return nil
	}

	format, err := f.Format()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Format:       %s\n", format)
	if dt, ok, err := f.Precision(); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(w, "Precision:    %s\n", dt.Precision())
	}

	dims, err := f.Dims()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Ranks:        %s\n", joinInts(dims))
	alphas, err := f.Alphas()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Alphas:       %s\n", joinStringers(alphas.Values()))
	if scales, err := f.DoRAScales(); err == nil && scales.Len() > 0 {
		fmt.Fprintf(w, "DoRA scales:  %s\n", joinStringers(scales.Values()))
	}

	fmt.Fprintf(w, "Tensors:      %s (unet %s, text encoder %s, alpha %s)\n",
		humanize.Comma(int64(len(f.Keys()))),
		humanize.Comma(int64(len(f.UnetKeys()))),
		humanize.Comma(int64(len(f.TextEncoderKeys()))),
		humanize.Comma(int64(len(f.AlphaKeys()))),
	)
	fmt.Fprintf(w, "Base names:   %s\n", humanize.Comma(int64(len(f.BaseNames()))))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return humanize.Comma(int64(n)) + " " + many
}

func joinInts(v []int) string {
	if len(v) == 0 {
		return "-"
	}
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

func joinStringers[T fmt.Stringer](v []T) string {
	if len(v) == 0 {
		return "-"
	}
	parts := make([]string, len(v))
	for i, s := range v {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}
