package record

import "strconv"

// DefaultSeparator joins parent and child keys in flattened column names.
const DefaultSeparator = "."

// Flat is a single-level view of a Record: column name to cell text, in
// the order the columns were first produced.
type Flat struct {
	keys       []string
	values     map[string]string
	collisions []string
}

// Keys returns the column names in first-seen order.
func (f Flat) Keys() []string { return f.keys }

// Get returns the cell for a column.
func (f Flat) Get(column string) (string, bool) {
	v, ok := f.values[column]
	return v, ok
}

// Collisions returns the columns produced by more than one key path, such as
// "a.b" from both {"a.b": 1} and {"a": {"b": 2}}.
func (f Flat) Collisions() []string { return f.collisions }

// Len returns the number of columns.
func (f Flat) Len() int { return len(f.keys) }

// Row returns the cells for the given columns; missing columns are empty.
func (f Flat) Row(columns []string) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = f.values[c]
	}
	return row
}

func (f *Flat) set(column, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, exists := f.values[column]; exists {
		f.collisions = append(f.collisions, column)
	} else {
		f.keys = append(f.keys, column)
	}
	f.values[column] = value
}

// Flatten walks nested objects of rec and produces one column per leaf.
// Column names join the key path with sep. Arrays are not expanded: they
// become a single cell holding their Display form. Null leaves produce an
// empty cell, and an empty nested object produces no column at all.
//
// When two key paths join to the same column name, the column keeps its
// first position and holds the value that comes last in the record; the
// name is reported by Collisions.
func Flatten(rec Record, sep string) Flat {
	var f Flat
	if rec.kind != KindObject {
		return f
	}
	flattenInto(&f, "", rec, sep)
	return f
}

func flattenInto(f *Flat, prefix string, obj Value, sep string) {
	for _, field := range obj.fields {
		column := field.Key
		if prefix != "" {
			column = prefix + sep + field.Key
		}

		switch v := field.Value; v.kind {
		case KindObject:
			flattenInto(f, column, v, sep)
		case KindArray:
			f.set(column, v.Display())
		case KindNull:
			f.set(column, "")
		case KindBool:
			f.set(column, strconv.FormatBool(v.flag))
		case KindString, KindNumber:
			f.set(column, v.text)
		}
	}
}

// FlattenAll flattens every record with sep.
func FlattenAll(recs []Record, sep string) []Flat {
	out := make([]Flat, len(recs))
	for i, rec := range recs {
		out[i] = Flatten(rec, sep)
	}
	return out
}

// Columns returns the union of column names across rows, in first-seen order.
func Columns(rows []Flat) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range rows {
		for _, k := range row.keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}
