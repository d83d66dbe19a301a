package dataset

import (
	"github.com/rotisserie/eris"
	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"
	"go.uber.org/zap"
)

// ReadROOT loads the named scalar branches of a flat ROOT tree, plus the
// truth label branch, into a Table. label values must be 0 or 1.
// Columns are stored in the order given.
func ReadROOT(path, tree string, columns []string, label string) (*Table, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close()

	obj, err := riofs.Dir(f).Get(tree)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: get tree %q from %s", tree, path)
	}
	t, ok := obj.(rtree.Tree)
	if !ok {
		return nil, eris.Errorf("dataset: %s:%s is a %T, not a tree", path, tree, obj)
	}

	available := make(map[string]rtree.ReadVar)
	for _, rv := range rtree.NewReadVars(t) {
		available[rv.Name] = rv
	}

	wanted := append(append([]string(nil), columns...), label)
	rvars := make([]rtree.ReadVar, len(wanted))
	getters := make([]func() float64, len(wanted))
	for j, name := range wanted {
		rv, ok := available[name]
		if !ok {
			return nil, eris.Wrapf(ErrMissingColumn, "%s:%s has no branch %q", path, tree, name)
		}
		get, err := scalarGetter(rv.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "dataset: branch %q", name)
		}
		rvars[j] = rv
		getters[j] = get
	}

	r, err := rtree.NewReader(t, rvars)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: create reader for %s:%s", path, tree)
	}
	defer r.Close()

	n := t.Entries()
	cols := make([][]float64, len(wanted))
	for j := range cols {
		cols[j] = make([]float64, 0, n)
	}
	err = r.Read(func(rtree.RCtx) error {
		for j, get := range getters {
			cols[j] = append(cols[j], get())
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s:%s", path, tree)
	}

	raw := cols[len(cols)-1]
	labels := make([]bool, len(raw))
	for i, v := range raw {
		switch v {
		case 1:
			labels[i] = true
		case 0:
		default:
			return nil, eris.Errorf("dataset: %s:%s entry %d: label %q is %v, want 0 or 1", path, tree, i, label, v)
		}
	}

	out := New(labels)
	for j, name := range columns {
		if err := out.AddColumn(name, cols[j]); err != nil {
			return nil, err
		}
	}

	nsig, nbkg := out.Counts()
	zap.L().Debug("dataset: loaded tree",
		zap.String("path", path),
		zap.String("tree", tree),
		zap.Int("columns", len(columns)),
		zap.Int("signal", nsig),
		zap.Int("background", nbkg),
	)
	return out, nil
}

// WriteROOT writes every column of t, in column order, followed by the
// label as a 0/1 double branch, to a new flat tree.
func WriteROOT(path, tree string, t *Table, label string) error {
	f, err := groot.Create(path)
	if err != nil {
		return eris.Wrapf(err, "dataset: create %s", path)
	}
	if err := writeTree(f, tree, t, label); err != nil {
		f.Close()
		return eris.Wrapf(err, "dataset: write %s", path)
	}
	return eris.Wrapf(f.Close(), "dataset: close %s", path)
}

func writeTree(dir riofs.Directory, tree string, t *Table, label string) error {
	names := t.Columns()
	vals := make([]float64, len(names)+1)
	wvars := make([]rtree.WriteVar, len(vals))
	for j, name := range names {
		wvars[j] = rtree.WriteVar{Name: name, Value: &vals[j]}
	}
	wvars[len(names)] = rtree.WriteVar{Name: label, Value: &vals[len(names)]}

	w, err := rtree.NewWriter(dir, tree, wvars)
	if err != nil {
		return eris.Wrapf(err, "create tree %q", tree)
	}

	cols := make([][]float64, len(names))
	for j, name := range names {
		cols[j], _ = t.Column(name)
	}
	for i, l := range t.Labels() {
		for j, col := range cols {
			vals[j] = col[i]
		}
		vals[len(names)] = 0
		if l {
			vals[len(names)] = 1
		}
		if _, err := w.Write(); err != nil {
			w.Close()
			return eris.Wrapf(err, "write entry %d", i)
		}
	}

	return eris.Wrapf(w.Close(), "close tree %q", tree)
}

func scalarGetter(ptr any) (func() float64, error) {
	switch v := ptr.(type) {
	case *float64:
		return func() float64 { return *v }, nil
	case *float32:
		return func() float64 { return float64(*v) }, nil
	case *int8:
		return func() float64 { return float64(*v) }, nil
	case *int16:
		return func() float64 { return float64(*v) }, nil
	case *int32:
		return func() float64 { return float64(*v) }, nil
	case *int64:
		return func() float64 { return float64(*v) }, nil
	case *uint8:
		return func() float64 { return float64(*v) }, nil
	case *uint16:
		return func() float64 { return float64(*v) }, nil
	case *uint32:
		return func() float64 { return float64(*v) }, nil
	case *uint64:
		return func() float64 { return float64(*v) }, nil
	case *bool:
		return func() float64 {
			if *v {
				return 1
			}
			return 0
		}, nil
	}
	return nil, eris.Errorf("unsupported branch type %T, want a numeric scalar", ptr)
}
