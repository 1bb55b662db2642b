package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ColumnKind tags a column as categorical, numeric, or a direct identifier.
// Kinds are fixed at load/configuration time; pipeline stages check them
// before touching any data.
type ColumnKind string

const (
	KindCategorical ColumnKind = "categorical"
	KindNumeric     ColumnKind = "numeric"
	KindIdentifier  ColumnKind = "identifier"
)

// MissingNumeric reports whether a numeric cell holds the missing sentinel.
func MissingNumeric(v float64) bool {
	return math.IsNaN(v)
}

// MissingCell is the in-memory sentinel for a suppressed or absent
// categorical cell. Exporters render it with a configurable marker.
const MissingCell = ""

// Column is a single variable of a microdata table. Exactly one of the
// value slices is populated, matching Kind; both have length Rows of the
// owning table.
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`

	Cat []string  `json:"-"`
	Num []float64 `json:"-"`
}

// IsMissing reports whether the cell at row i is the missing sentinel.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == KindNumeric {
		return MissingNumeric(c.Num[i])
	}
	return c.Cat[i] == MissingCell
}

// Levels returns the sorted distinct non-missing values of a categorical
// column.
func (c *Column) Levels() []string {
	seen := make(map[string]struct{})
	for _, v := range c.Cat {
		if v != MissingCell {
			seen[v] = struct{}{}
		}
	}
	levels := make([]string, 0, len(seen))
	for v := range seen {
		levels = append(levels, v)
	}
	sort.Strings(levels)
	return levels
}

// Table holds tabular microdata: rows are respondents, columns are
// variables. The record count and column set are fixed for the lifetime of
// a pipeline run; suppression may set individual cells to the missing
// sentinel but never removes rows or columns.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// NewTable creates an empty table with a fixed row count.
func NewTable(rows int) *Table {
	return &Table{
		index: make(map[string]int),
		rows:  rows,
	}
}

// Rows returns the record count.
func (t *Table) Rows() int {
	return t.rows
}

// ColumnNames returns column names in their original order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// AddColumn appends a column. The value slice length must match the table's
// row count.
func (t *Table) AddColumn(col *Column) error {
	if _, exists := t.index[col.Name]; exists {
		return fmt.Errorf("duplicate column %q", col.Name)
	}
	switch col.Kind {
	case KindNumeric:
		if len(col.Num) != t.rows {
			return fmt.Errorf("column %q has %d values, table has %d rows", col.Name, len(col.Num), t.rows)
		}
	case KindCategorical, KindIdentifier:
		if len(col.Cat) != t.rows {
			return fmt.Errorf("column %q has %d values, table has %d rows", col.Name, len(col.Cat), t.rows)
		}
	default:
		return fmt.Errorf("column %q has unknown kind %q", col.Name, col.Kind)
	}
	t.index[col.Name] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

// Clone returns a deep copy of the table. Pipeline stages validate against
// the original and mutate the clone, so a failed stage never leaves a
// half-modified table behind.
func (t *Table) Clone() *Table {
	out := NewTable(t.rows)
	for _, c := range t.columns {
		cc := &Column{Name: c.Name, Kind: c.Kind}
		if c.Kind == KindNumeric {
			cc.Num = append([]float64(nil), c.Num...)
		} else {
			cc.Cat = append([]string(nil), c.Cat...)
		}
		// AddColumn cannot fail on a consistent source table.
		_ = out.AddColumn(cc)
	}
	return out
}

// KeyTuple builds the equivalence-class key of row i over the given
// categorical columns. Missing matches missing.
func (t *Table) KeyTuple(i int, keys []*Column) string {
	var b strings.Builder
	for j, c := range keys {
		if j > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(c.Cat[i])
	}
	return b.String()
}

// NormalizeName maps a raw header to the canonical variable name used
// throughout the pipeline: trimmed, lowered, runs of non-alphanumeric
// characters collapsed to a single underscore.
func NormalizeName(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range raw {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
