// Package csvfile writes flattened records as CSV files.
package csvfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/crm-export/pkg/record"
)

// DefaultEmptyHeader is the header written when there are no rows.
var DefaultEmptyHeader = []string{"id"}

// Options control the CSV layout.
type Options struct {
	// EmptyHeader is written as the only row when rows is empty.
	// Nil means DefaultEmptyHeader.
	EmptyHeader []string

	// UseCRLF ends lines with \r\n instead of \n.
	UseCRLF bool
}

// WriteError reports a failure to produce the output file.
type WriteError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// Write stores rows at path. The header is the union of the rows' columns in
// first-seen order; absent cells are empty. The file is written next to path
// and renamed into place, so path is either the complete new file or left
// untouched. It returns the number of data rows written. When the rows
// produce no columns at all, the header falls back to opts.EmptyHeader.
func Write(path string, rows []record.Flat, opts Options) (int, error) {
	header := record.Columns(rows)
	if len(header) == 0 {
		header = opts.EmptyHeader
		if header == nil {
			header = DefaultEmptyHeader
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	w.UseCRLF = opts.UseCRLF

	if err := w.Write(header); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	for _, row := range rows {
		if err := w.Write(row.Row(header)); err != nil {
			return 0, &WriteError{Path: path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}

	if err := tmp.Sync(); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	// CreateTemp uses 0600.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, &WriteError{Path: path, Err: err}
	}
	committed = true

	return len(rows), nil
}
