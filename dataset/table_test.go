package dataset

import (
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tab := New([]bool{true, false, true, false, false})
	require.NoError(t, tab.AddColumn("dr", []float64{0.1, 0.2, 0.3, 0.4, 0.5}))
	require.NoError(t, tab.AddColumn("chiProb", []float64{1, 2, 3, 4, 5}))
	require.NoError(t, tab.AddColumn("pt", []float64{10, 20, 30, 40, 50}))
	return tab
}

func TestAddColumnRejectsBadInput(t *testing.T) {
	tab := newTestTable(t)
	assert.Error(t, tab.AddColumn("dr", []float64{1, 2, 3, 4, 5}))
	assert.Error(t, tab.AddColumn("dz", []float64{1, 2}))
	assert.Equal(t, []string{"dr", "chiProb", "pt"}, tab.Columns())
}

func TestCounts(t *testing.T) {
	nsig, nbkg := newTestTable(t).Counts()
	assert.Equal(t, 2, nsig)
	assert.Equal(t, 3, nbkg)
}

func TestMatrixFollowsFeatureOrder(t *testing.T) {
	tab := newTestTable(t)

	X, err := tab.Matrix([]string{"pt", "dr"})
	require.NoError(t, err)
	require.Len(t, X, 5)
	assert.Equal(t, []float64{10, 0.1}, X[0])
	assert.Equal(t, []float64{50, 0.5}, X[4])

	// Rows are private copies.
	X[0][0] = -1
	col, _ := tab.Column("pt")
	assert.Equal(t, 10.0, col[0])
}

func TestMatrixRowsDoNotAlias(t *testing.T) {
	X, err := newTestTable(t).Matrix([]string{"dr"})
	require.NoError(t, err)
	X[0] = append(X[0], 99)
	assert.Equal(t, []float64{0.2}, X[1])
}

func TestMatrixMissingColumn(t *testing.T) {
	_, err := newTestTable(t).Matrix([]string{"dr", "nope"})
	assert.True(t, eris.Is(err, ErrMissingColumn))
}

func TestSample(t *testing.T) {
	tab := newTestTable(t)

	assert.Same(t, tab, tab.Sample(0, 1))
	assert.Same(t, tab, tab.Sample(10, 1))

	s := tab.Sample(3, 42)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, tab.Columns(), s.Columns())

	dr, _ := s.Column("dr")
	pt, _ := s.Column("pt")
	for i := range dr {
		// Rows stay intact and in original order.
		assert.InDelta(t, dr[i]*100, pt[i], 1e-9)
		if i > 0 {
			assert.Greater(t, dr[i], dr[i-1])
		}
	}

	again := tab.Sample(3, 42)
	dr2, _ := again.Column("dr")
	assert.Equal(t, dr, dr2)
}

func TestWithColumn(t *testing.T) {
	tab := newTestTable(t)
	scored, err := tab.WithColumn("mva", []float64{0.9, 0.1, 0.8, 0.2, 0.3})
	require.NoError(t, err)

	assert.Equal(t, []string{"dr", "chiProb", "pt", "mva"}, scored.Columns())
	assert.Equal(t, []string{"dr", "chiProb", "pt"}, tab.Columns())
	_, ok := tab.Column("mva")
	assert.False(t, ok)
}

func TestCheckSchema(t *testing.T) {
	train := newTestTable(t)
	test := New([]bool{true, false})
	require.NoError(t, test.AddColumn("dr", []float64{1, 2}))

	assert.NoError(t, CheckSchema(train, nil, []string{"dr", "pt"}))
	assert.NoError(t, CheckSchema(train, test, []string{"dr"}))
	assert.True(t, eris.Is(CheckSchema(train, test, []string{"dr", "pt"}), ErrSchemaMismatch))
	assert.True(t, eris.Is(CheckSchema(train, test, []string{"dz"}), ErrMissingColumn))
}

func TestROOTRoundTrip(t *testing.T) {
	tab := newTestTable(t)
	path := filepath.Join(t.TempDir(), "lambda.root")
	require.NoError(t, WriteROOT(path, "lambda", tab, "isSignal"))

	got, err := ReadROOT(path, "lambda", []string{"pt", "dr"}, "isSignal")
	require.NoError(t, err)
	assert.Equal(t, []string{"pt", "dr"}, got.Columns())
	assert.Equal(t, tab.Labels(), got.Labels())
	pt, _ := got.Column("pt")
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, pt)

	_, err = ReadROOT(path, "lambda", []string{"dz"}, "isSignal")
	assert.True(t, eris.Is(err, ErrMissingColumn))

	_, err = ReadROOT(path, "nope", []string{"dr"}, "isSignal")
	assert.Error(t, err)
}

func TestReadROOTRejectsNonBinaryLabel(t *testing.T) {
	tab := New([]bool{true, false})
	require.NoError(t, tab.AddColumn("dr", []float64{1, 2}))
	require.NoError(t, tab.AddColumn("mcPDG", []float64{3122, -3122}))

	path := filepath.Join(t.TempDir(), "lambda.root")
	require.NoError(t, WriteROOT(path, "lambda", tab, "isSignal"))

	_, err := ReadROOT(path, "lambda", []string{"dr"}, "mcPDG")
	assert.Error(t, err)
}
