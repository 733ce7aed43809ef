package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/TFMV/starcat/catalog"
	"github.com/TFMV/starcat/coords"
	"github.com/apache/arrow-go/v18/arrow/array"
)

func printText(w io.Writer, positions []coords.SkyCoord, bright *catalog.Table, column string, threshold float64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "Star Coordinates:")
	fmt.Fprintln(tw, "ROW\tPOSITION")
	for i, p := range positions {
		fmt.Fprintf(tw, "%d\t%s\n", i, p)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Bright Stars (%s > %g):\n", column, threshold)
	schema := bright.Schema()
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = strings.ToUpper(f.Name)
	}
	fmt.Fprintln(tw, strings.Join(names, "\t"))

	rec := bright.Record()
	cells := make([]string, rec.NumCols())
	for row := 0; row < int(rec.NumRows()); row++ {
		for c := range cells {
			cells[c] = rec.Column(c).ValueStr(row)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	fmt.Fprintf(tw, "(%d of %d rows)\n", rec.NumRows(), len(positions))
	return tw.Flush()
}

type coordinateJSON struct {
	Row   int     `json:"row"`
	Frame string  `json:"frame"`
	Lon   float64 `json:"lon"`
	Lat   float64 `json:"lat"`
}

type analysisJSON struct {
	Coordinates []coordinateJSON `json:"coordinates"`
	BrightStars json.RawMessage  `json:"bright_stars"`
}

func printJSON(w io.Writer, positions []coords.SkyCoord, bright *catalog.Table) error {
	out := analysisJSON{Coordinates: make([]coordinateJSON, len(positions))}
	for i, p := range positions {
		out.Coordinates[i] = coordinateJSON{Row: i, Frame: p.Frame.String(), Lon: p.Lon.Deg(), Lat: p.Lat.Deg()}
	}

	rows := array.RecordToStructArray(bright.Record())
	defer rows.Release()
	data, err := rows.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	out.BrightStars = data

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
