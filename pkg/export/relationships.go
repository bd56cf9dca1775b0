package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rs/zerolog"
)

// RelationshipsFile is the report name FindRelationships skips when it
// scans a directory, so a previous report is never treated as an export.
const RelationshipsFile = "relationships_found.csv"

// Relationship says that values of one export's id column appear in a
// column of another export, e.g. contacts.id in deals.properties.contact_id.
type Relationship struct {
	File     string `csv:"file"`
	IDColumn string `csv:"id_column"`
	Other    string `csv:"other_file"`
	Column   string `csv:"other_column"`
	Matches  int    `csv:"match_count"`
}

// exportFile is one CSV file held as distinct non-empty values per column.
type exportFile struct {
	name    string
	columns []string
	values  map[string]map[string]struct{}
}

func (t *exportFile) idColumn() string {
	for _, c := range t.columns {
		if strings.EqualFold(c, "id") {
			return c
		}
	}
	return ""
}

// FindRelationships compares the id column of every CSV file in dir with
// every column of every other CSV file and reports each pair that shares at
// least one value. Matches counts distinct shared values. Files that cannot
// be parsed are skipped with a warning.
func FindRelationships(dir string, logger zerolog.Logger) ([]Relationship, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}

	var files []*exportFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") || name == RelationshipsFile {
			continue
		}
		t, err := readExport(filepath.Join(dir, name))
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("Skipping unreadable export")
			continue
		}
		files = append(files, t)
	}

	var rels []Relationship
	for _, t := range files {
		idCol := t.idColumn()
		if idCol == "" {
			continue
		}
		ids := t.values[idCol]
		if len(ids) == 0 {
			continue
		}

		for _, other := range files {
			if other == t {
				continue
			}
			for _, col := range other.columns {
				if n := overlap(ids, other.values[col]); n > 0 {
					rels = append(rels, Relationship{
						File:     t.name,
						IDColumn: idCol,
						Other:    other.name,
						Column:   col,
						Matches:  n,
					})
				}
			}
		}
	}

	logger.Info().
		Int("files", len(files)).
		Int("relationships", len(rels)).
		Msg("Relationship scan complete")
	return rels, nil
}

func readExport(path string) (*exportFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	t := &exportFile{
		name:    filepath.Base(path),
		columns: header,
		values:  make(map[string]map[string]struct{}, len(header)),
	}
	for _, c := range header {
		t.values[c] = make(map[string]struct{})
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.name, err)
		}
		for i, cell := range row {
			if i >= len(header) || cell == "" {
				continue
			}
			t.values[header[i]][cell] = struct{}{}
		}
	}
	return t, nil
}

func overlap(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for v := range a {
		if _, ok := b[v]; ok {
			n++
		}
	}
	return n
}

// WriteRelationships writes rels as CSV. An empty list still gets a header.
func WriteRelationships(w io.Writer, rels []Relationship) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if len(rels) == 0 {
		if err := enc.EncodeHeader(Relationship{}); err != nil {
			return fmt.Errorf("encode relationships header: %w", err)
		}
	} else if err := enc.Encode(rels); err != nil {
		return fmt.Errorf("encode relationships: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
