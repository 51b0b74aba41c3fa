package lookup

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Table is an in-memory lookup table keyed by one CSV column. Duplicate
// keys keep the first row seen.
type Table struct {
	keyColumn string
	columns   []string
	rows      map[string][]string
	position  map[string]int
}

func Open(path string, keyColumn string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lookup table: %w", err)
	}
	defer f.Close()

	t, err := Read(f, keyColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func Read(r io.Reader, keyColumn string) (*Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	position := make(map[string]int, len(header))
	for i, name := range header {
		position[name] = i
	}
	keyIdx, ok := position[keyColumn]
	if !ok {
		return nil, fmt.Errorf("key column %q not found in header %v", keyColumn, header)
	}

	rows := make(map[string][]string)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		key := record[keyIdx]
		if _, exists := rows[key]; exists {
			continue
		}
		rows[key] = record
	}

	return &Table{
		keyColumn: keyColumn,
		columns:   append([]string(nil), header...),
		rows:      rows,
		position:  position,
	}, nil
}

func (t *Table) Len() int {
	return len(t.rows)
}

func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.position[name]
	return ok
}

// Lookup returns the row for key as a column-name map.
func (t *Table) Lookup(key string) (map[string]string, bool) {
	record, ok := t.rows[key]
	if !ok {
		return nil, false
	}
	row := make(map[string]string, len(t.columns))
	for name, i := range t.position {
		row[name] = record[i]
	}
	return row, true
}

// Value returns a single cell for key.
func (t *Table) Value(key string, column string) (string, bool) {
	record, ok := t.rows[key]
	if !ok {
		return "", false
	}
	i, ok := t.position[column]
	if !ok {
		return "", false
	}
	return record[i], true
}

// Each visits every row. Iteration order is unspecified.
func (t *Table) Each(fn func(key string, row map[string]string)) {
	for key := range t.rows {
		row, _ := t.Lookup(key)
		fn(key, row)
	}
}

// Filter returns a new table holding only the rows where column equals value.
func (t *Table) Filter(column string, value string) (*Table, error) {
	i, ok := t.position[column]
	if !ok {
		return nil, fmt.Errorf("filter column %q not found in header %v", column, t.columns)
	}

	rows := make(map[string][]string)
	for key, record := range t.rows {
		if record[i] == value {
			rows[key] = record
		}
	}

	return &Table{
		keyColumn: t.keyColumn,
		columns:   t.columns,
		rows:      rows,
		position:  t.position,
	}, nil
}
