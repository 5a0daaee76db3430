// Package ingest reads reviewer entry sheets and seed fixtures from local
// files. Sheets may be CSV or XLSX; fixtures are JSON.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadSheet returns the rows of a CSV or XLSX file, header included,
// choosing the parser from the file extension.
func ReadSheet(ctx context.Context, path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f, CSVOptions{TrimSpace: true, Comment: '#'})
	default:
		return nil, eris.Errorf("ingest: unsupported sheet type %q", filepath.Ext(path))
	}
}

// HeaderIndex maps lower-cased, trimmed header names to column positions.
func HeaderIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// Cell returns row[i] trimmed, or "" when the column is absent.
func Cell(row []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
