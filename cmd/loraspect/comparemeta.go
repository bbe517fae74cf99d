package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loraspect/internal/lora"
)

func compareMetadataCmd() *cli.Command {
	var (
		file1  string
		file2  string
		asJSON bool
	)

	return &cli.Command{
		Name:  "compare-metadata",
		Usage: "Show how the metadata of two files differs",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:        "file1",
				Usage:       "first .safetensors file",
				Required:    true,
				Destination: &file1,
			},
			&cli.StringFlag{
				Name:        "file2",
				Usage:       "second .safetensors file",
				Required:    true,
				Destination: &file2,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the diff as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openAdapter(ctx, cmd, file1)
			if err != nil {
				return err
			}
			defer func() { _ = a.Unload() }()
			b, err := openAdapter(ctx, cmd, file2)
			if err != nil {
				return err
			}
			defer func() { _ = b.Unload() }()

			diff := lora.CompareMetadata(a.Metadata(), b.Metadata())
			w := outWriter(cmd)
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(diff)
			}
			writeDiff(w, a.Filename(), b.Filename(), diff)
			return nil
		},
	}
}

func writeDiff(w io.Writer, name1, name2 string, d lora.Diff) {
	if d.Empty() {
		fmt.Fprintln(w, "No metadata differences.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"KEY", "CHANGE", name1, name2})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	for _, k := range slices.Sorted(maps.Keys(d.Removed)) {
		table.Append([]string{k, "removed", d.Removed[k], ""})
	}
	for _, k := range slices.Sorted(maps.Keys(d.Added)) {
		table.Append([]string{k, "added", "", d.Added[k]})
	}
	for _, k := range slices.Sorted(maps.Keys(d.Changed)) {
		c := d.Changed[k]
		table.Append([]string{k, "changed", c.Old, c.New})
	}
	table.Render()
}
