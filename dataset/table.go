// Package dataset holds labelled candidate tables read from flat ntuples.
package dataset

import (
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
)

var (
	// ErrMissingColumn is returned when a requested column is not in the table.
	ErrMissingColumn = eris.New("dataset: missing column")
	// ErrSchemaMismatch is returned when train and test tables disagree.
	ErrSchemaMismatch = eris.New("dataset: schema mismatch")
)

// Table is a column oriented set of reconstructed candidates. Each row has a
// value in every column and a truth label. A Table is not modified once
// built, so it can be shared between goroutines.
type Table struct {
	names  []string
	cols   map[string][]float64
	labels []bool
}

// New returns an empty table with one row per label.
func New(labels []bool) *Table {
	return &Table{
		cols:   make(map[string][]float64),
		labels: labels,
	}
}

// AddColumn appends a named column. It must be called before the table is
// shared.
func (t *Table) AddColumn(name string, values []float64) error {
	if _, ok := t.cols[name]; ok {
		return eris.Errorf("dataset: duplicate column %q", name)
	}
	if len(values) != len(t.labels) {
		return eris.Errorf("dataset: column %q has %d rows, want %d", name, len(values), len(t.labels))
	}
	t.names = append(t.names, name)
	t.cols[name] = values
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.labels) }

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Column returns the values of a column. The slice must not be modified.
func (t *Table) Column(name string) ([]float64, bool) {
	v, ok := t.cols[name]
	return v, ok
}

// Labels returns the truth labels. The slice must not be modified.
func (t *Table) Labels() []bool { return t.labels }

// Counts returns the number of signal and background rows.
func (t *Table) Counts() (nsig, nbkg int) {
	for _, l := range t.labels {
		if l {
			nsig++
		} else {
			nbkg++
		}
	}
	return nsig, nbkg
}

// Matrix returns a freshly allocated row-major view of the given features,
// in the given order.
func (t *Table) Matrix(features []string) ([][]float64, error) {
	cols := make([][]float64, len(features))
	for j, name := range features {
		v, ok := t.cols[name]
		if !ok {
			return nil, eris.Wrapf(ErrMissingColumn, "%q", name)
		}
		cols[j] = v
	}

	flat := make([]float64, len(t.labels)*len(features))
	rows := make([][]float64, len(t.labels))
	for i := range rows {
		row := flat[i*len(features) : (i+1)*len(features) : (i+1)*len(features)]
		for j, col := range cols {
			row[j] = col[i]
		}
		rows[i] = row
	}
	return rows, nil
}

// Sample returns a table with n rows drawn without replacement. Row order
// of the original table is kept. If n is not positive or not smaller than
// the table, t itself is returned.
func (t *Table) Sample(n int, seed int64) *Table {
	if n <= 0 || n >= t.Len() {
		return t
	}

	rnd := rand.New(rand.NewSource(seed))
	idx := rnd.Perm(t.Len())[:n]
	sort.Ints(idx)

	labels := make([]bool, n)
	for i, k := range idx {
		labels[i] = t.labels[k]
	}
	out := New(labels)
	for _, name := range t.names {
		src := t.cols[name]
		dst := make([]float64, n)
		for i, k := range idx {
			dst[i] = src[k]
		}
		out.names = append(out.names, name)
		out.cols[name] = dst
	}
	return out
}

// WithColumn returns a shallow copy of t with one extra column. The
// receiver is left untouched.
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	out := &Table{
		names:  append([]string(nil), t.names...),
		cols:   make(map[string][]float64, len(t.cols)+1),
		labels: t.labels,
	}
	for k, v := range t.cols {
		out.cols[k] = v
	}
	if err := out.AddColumn(name, values); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckSchema verifies that every feature is present in train and, when
// given, in test.
func CheckSchema(train, test *Table, features []string) error {
	for _, name := range features {
		if _, ok := train.cols[name]; !ok {
			return eris.Wrapf(ErrMissingColumn, "train: %q", name)
		}
		if test == nil {
			continue
		}
		if _, ok := test.cols[name]; !ok {
			return eris.Wrapf(ErrSchemaMismatch, "test has no column %q", name)
		}
	}
	return nil
}
