package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
)

// DefaultBarWidth is the width of the block chart bars.
const DefaultBarWidth = 40

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Write renders r in the named format.
func Write(w io.Writer, r *Report, format string, barWidth int) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, r)
	case FormatText:
		return WriteText(w, r, barWidth)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes r as tables followed by a bar chart of block averages.
func WriteText(w io.Writer, r *Report, barWidth int) error {
	if barWidth <= 0 {
		barWidth = DefaultBarWidth
	}

	if len(r.Metadata) > 0 {
		fmt.Fprintln(w, "Metadata:")
		table := newTable(w, "KEY", "VALUE")
		for _, k := range slices.Sorted(maps.Keys(r.Metadata)) {
			table.Append([]string{k, r.Metadata[k]})
		}
		table.Render()
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Norms:")
	table := newTable(w, "NAME", "L1", "L2", "MATRIX", "MAX", "MIN", "STD DEV", "MEDIAN")
	for _, name := range r.BaseNames {
		s, ok := r.Norms[name]
		if !ok {
			continue
		}
		table.Append([]string{
			name, ff(s.L1), ff(s.L2), ff(s.Matrix), ff(s.Max), ff(s.Min), ff(s.StdDev), ff(s.Median),
		})
	}
	table.Render()

	if len(r.Blocks) > 0 {
		fmt.Fprintln(w, "\nBlocks:")
		maxL2 := r.MaxAverageL2()
		for _, key := range r.SortedBlockKeys() {
			b := r.Blocks[key]
			fmt.Fprintf(w, "%-20s %s (%d weights)\n", key, Bar(b.AverageL2Norm, maxL2, barWidth), len(b.Weights))
		}
	}

	if len(r.NonBlockWeights) > 0 {
		fmt.Fprintln(w, "\nNon-Block Weights:")
		table := newTable(w, "NAME", "L2")
		for _, name := range slices.Sorted(maps.Keys(r.NonBlockWeights)) {
			table.Append([]string{name, ff(r.NonBlockWeights[name].L2)})
		}
		table.Render()
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nFailed:")
		table := newTable(w, "NAME", "ERROR")
		for _, f := range r.Failures {
			table.Append([]string{f.Name, f.Error})
		}
		table.Render()
	}
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }
