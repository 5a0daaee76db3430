// Package export renders standings and publish runs as text tables, CSV,
// JSON or XLSX workbooks.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Format selects an output renderer.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
)

// Formats lists every supported format.
var Formats = []Format{FormatTable, FormatCSV, FormatJSON, FormatXLSX}

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", eris.Errorf("export: unknown format %q (want table, csv, json or xlsx)", s)
}

// Binary reports whether the format produces non-text output.
func (f Format) Binary() bool {
	return f == FormatXLSX
}

// Table is a titled grid of display strings.
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
}

// Write renders t in format f. JSON output encodes raw (the view the table
// was built from) instead of the display strings.
func Write(w io.Writer, f Format, t Table, raw any) error {
	switch f {
	case FormatTable, "":
		return WriteTable(w, t)
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatJSON:
		return WriteJSON(w, raw)
	case FormatXLSX:
		return WriteXLSX(w, t)
	}
	return eris.Errorf("export: unknown format %q", f)
}

// WriteTable writes t as aligned columns with a dashed rule under the header.
func WriteTable(out io.Writer, t Table) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if t.Title != "" {
		_, _ = fmt.Fprintln(w, t.Title)
		_, _ = fmt.Fprintln(w)
	}
	rule := make([]string, len(t.Header))
	for i, h := range t.Header {
		rule[i] = strings.Repeat("-", len(h))
	}
	_, _ = fmt.Fprintln(w, strings.Join(t.Header, "\t"))
	_, _ = fmt.Fprintln(w, strings.Join(rule, "\t"))
	for _, row := range t.Rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return eris.Wrap(w.Flush(), "export: flush table")
}

// WriteCSV writes the header and rows of t. The title is not written.
func WriteCSV(out io.Writer, t Table) error {
	w := csv.NewWriter(out)
	if err := w.Write(t.Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return eris.Wrap(err, "export: write csv rows")
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "export: encode json")
}

// WriteXLSX writes t as a single-sheet workbook named after the title.
func WriteXLSX(out io.Writer, t Table) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName(t.Title))
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range t.Header {
		header.AddCell().SetString(h)
	}
	for _, row := range t.Rows {
		r := sheet.AddRow()
		for _, v := range row {
			r.AddCell().SetString(v)
		}
	}
	return eris.Wrap(f.Write(out), "export: write xlsx")
}

// sheetName fits a title into Excel's sheet name rules.
func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "Sheet1"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}
