package selection

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dazhiw/b2lambda/classifier"
	"github.com/dazhiw/b2lambda/dataset"
)

// scenario scripts the AUC a classifier gets on every feature subset. Its
// tables encode the feature index and the label in every cell, so the fake
// classifier can find out which subset and split it is looking at.
type scenario struct {
	features []string
	auc      func(subset []string, test bool) float64
	fail     func(subset []string) error
	fits     *atomic.Int32
}

const (
	nSig       = 100
	nBkg       = 1000
	testOffset = 1000
)

func (sc scenario) tables(t *testing.T) (train, test *dataset.Table) {
	t.Helper()
	build := func(offset float64) *dataset.Table {
		labels := make([]bool, nSig+nBkg)
		for i := range labels {
			labels[i] = i < nSig
		}
		tab := dataset.New(labels)
		for k, name := range sc.features {
			col := make([]float64, len(labels))
			for i, l := range labels {
				col[i] = offset + float64(k+1)*10
				if l {
					col[i] += 0.5
				}
			}
			require.NoError(t, tab.AddColumn(name, col))
		}
		return tab
	}
	return build(0), build(testOffset)
}

func (sc scenario) factory() classifier.Factory {
	return func() classifier.Classifier { return &fakeClassifier{sc: sc} }
}

type fakeClassifier struct {
	sc scenario
}

func (f *fakeClassifier) Fit(X [][]float64, y []bool) error {
	if f.sc.fits != nil {
		f.sc.fits.Add(1)
	}
	subset, _ := f.decode(X[0])
	if f.sc.fail != nil {
		return f.sc.fail(subset)
	}
	return nil
}

func (f *fakeClassifier) Predict(X [][]float64) ([]float64, error) {
	subset, test := f.decode(X[0])
	want := f.sc.auc(subset, test)

	// Signal scores 1; the first want*nBkg background rows score below it
	// and the rest above, so the AUC is exactly want.
	below := int(math.Round(want * nBkg))
	out := make([]float64, len(X))
	r := 0
	for i, row := range X {
		if row[0]-math.Floor(row[0]) > 0 {
			out[i] = 1
			continue
		}
		if r >= below {
			out[i] = 2
		}
		r++
	}
	return out, nil
}

func (f *fakeClassifier) decode(row []float64) ([]string, bool) {
	var (
		subset []string
		test   bool
	)
	for _, v := range row {
		v = math.Floor(v)
		if v >= testOffset {
			test = true
			v -= testOffset
		}
		subset = append(subset, f.sc.features[int(v/10)-1])
	}
	return subset, test
}

// lossAUC returns an AUC function where having feature f in the subset is
// worth cost[f].
func lossAUC(base float64, cost map[string]float64, all []string) func([]string, bool) float64 {
	return func(subset []string, _ bool) float64 {
		auc := base
		have := map[string]bool{}
		for _, f := range subset {
			have[f] = true
		}
		for _, f := range all {
			if !have[f] {
				auc -= cost[f]
			}
		}
		return auc
	}
}

func key(subset []string) string { return strings.Join(subset, ",") }

func TestTrialsOnePerFeature(t *testing.T) {
	sc := scenario{
		features: []string{"dr", "dz", "cosaXY", "chiProb"},
		auc:      func([]string, bool) float64 { return 0.9 },
	}
	train, _ := sc.tables(t)
	eval := NewEvaluator(sc.factory(), train, nil, 3)

	trials, err := eval.Trials(context.Background(), sc.features)
	require.NoError(t, err)
	require.Len(t, trials, 4)

	seen := map[string]bool{}
	for i, tr := range trials {
		assert.Equal(t, sc.features[i], tr.Removed)
		assert.Len(t, tr.Features, 3)
		assert.NotContains(t, tr.Features, tr.Removed)
		seen[tr.Removed] = true
		assert.InDelta(t, 0.9, tr.TrainAUC, 1e-9)
		assert.False(t, tr.HasTest)
	}
	assert.Len(t, seen, 4)
}

func TestSelectorPicksHighestAUC(t *testing.T) {
	sc := scenario{
		features: []string{"a", "b"},
		auc: func(subset []string, _ bool) float64 {
			switch key(subset) {
			case "b":
				return 0.91
			case "a":
				return 0.95
			}
			return 0.97
		},
	}
	train, _ := sc.tables(t)
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.9, Workers: 2})
	require.NoError(t, err)

	traj, err := sel.Run(context.Background(), sc.features)
	require.NoError(t, err)
	require.Len(t, traj, 2)

	assert.Equal(t, 2, traj[0].NFeatures)
	assert.Empty(t, traj[0].Removed)
	assert.InDelta(t, 0.97, traj[0].TrainAUC, 1e-9)

	assert.Equal(t, 1, traj[1].NFeatures)
	assert.Equal(t, "b", traj[1].Removed)
	assert.Equal(t, []string{"a"}, traj[1].Features)
	assert.InDelta(t, 0.95, traj[1].TrainAUC, 1e-9)
}

func TestSelectorTieKeepsFirstCandidate(t *testing.T) {
	sc := scenario{
		features: []string{"A", "B"},
		auc: func(subset []string, _ bool) float64 {
			if len(subset) == 2 {
				return 0.9
			}
			return 0.80
		},
	}
	train, _ := sc.tables(t)

	for run := 0; run < 5; run++ {
		sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.75, Workers: 2})
		require.NoError(t, err)
		traj, err := sel.Run(context.Background(), sc.features)
		require.NoError(t, err)
		require.Len(t, traj, 2)
		assert.Equal(t, "A", traj[1].Removed)
		assert.Equal(t, []string{"B"}, traj[1].Features)
	}
}

func TestSelectorStopsAfterFirstStepBelowThreshold(t *testing.T) {
	all := []string{"f0", "f1", "f2", "f3", "f4"}
	sc := scenario{
		features: all,
		auc: lossAUC(0.99, map[string]float64{
			"f0": 0.03, "f1": 0.03, "f2": 0.01, "f3": 0.02, "f4": 0.01,
		}, all),
	}
	train, _ := sc.tables(t)
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.975, Workers: 4})
	require.NoError(t, err)

	traj, err := sel.Run(context.Background(), all)
	require.NoError(t, err)

	// 0.99 -> drop f2 (0.98) -> drop f4 (0.97, below threshold, recorded).
	require.Len(t, traj, 3)
	for i, step := range traj {
		assert.Equal(t, len(all)-i, step.NFeatures)
		assert.Len(t, step.Features, step.NFeatures)
	}
	assert.Equal(t, "f2", traj[1].Removed)
	assert.Equal(t, "f4", traj[2].Removed)
	assert.InDelta(t, 0.97, traj.Last().TrainAUC, 1e-9)
	assert.Equal(t, []string{"f0", "f1", "f3"}, traj.Last().Features)
}

func TestSelectorRunsDownToOneFeature(t *testing.T) {
	all := []string{"f0", "f1", "f2", "f3"}
	sc := scenario{features: all, auc: func([]string, bool) float64 { return 0.999 }}
	train, _ := sc.tables(t)
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.5})
	require.NoError(t, err)

	traj, err := sel.Run(context.Background(), all)
	require.NoError(t, err)
	require.Len(t, traj, 4)
	for i := 1; i < len(traj); i++ {
		assert.Equal(t, traj[i-1].NFeatures-1, traj[i].NFeatures)
	}
	// All ties: the first feature goes every round.
	assert.Equal(t, []string{"f3"}, traj.Last().Features)
}

func TestSelectorSingleFeature(t *testing.T) {
	for _, auc := range []float64{0.5, 0.9999} {
		sc := scenario{features: []string{"pt"}, auc: func([]string, bool) float64 { return auc }}
		train, _ := sc.tables(t)
		sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.9})
		require.NoError(t, err)

		traj, err := sel.Run(context.Background(), sc.features)
		require.NoError(t, err)
		require.Len(t, traj, 1)
		assert.Equal(t, 1, traj[0].NFeatures)
	}
}

func TestSelectorBaselineBelowThreshold(t *testing.T) {
	sc := scenario{features: []string{"a", "b", "c"}, auc: func([]string, bool) float64 { return 0.8 }}
	train, _ := sc.tables(t)
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.9})
	require.NoError(t, err)

	var rounds int
	sel.opts.OnIteration = func(Iteration) { rounds++ }
	traj, err := sel.Run(context.Background(), sc.features)
	require.NoError(t, err)
	assert.Len(t, traj, 1)
	assert.Zero(t, rounds)
}

func TestSelectorGoverningMetric(t *testing.T) {
	// On train dropping "a" is best, on test dropping "b" is.
	sc := scenario{
		features: []string{"a", "b"},
		auc: func(subset []string, test bool) float64 {
			switch {
			case len(subset) == 2:
				return 0.99
			case key(subset) == "b" && !test, key(subset) == "a" && test:
				return 0.95
			}
			return 0.90
		},
	}
	train, test := sc.tables(t)

	cases := []struct {
		governing Governing
		test      *dataset.Table
		resolved  Governing
		removed   string
	}{
		{GoverningAuto, test, GoverningTest, "b"},
		{GoverningAuto, nil, GoverningTrain, "a"},
		{GoverningTrain, test, GoverningTrain, "a"},
		{GoverningTest, test, GoverningTest, "b"},
	}
	for _, tc := range cases {
		sel, err := New(sc.factory(), train, tc.test, Options{Threshold: 0.9, Governing: tc.governing})
		require.NoError(t, err)
		assert.Equal(t, tc.resolved, sel.Governing())

		traj, err := sel.Run(context.Background(), sc.features)
		require.NoError(t, err)
		require.Len(t, traj, 2)
		assert.Equal(t, tc.removed, traj[1].Removed, "governing=%s", tc.governing)
		assert.Equal(t, tc.test != nil, traj[1].HasTest)
	}

	_, err := New(sc.factory(), train, nil, Options{Governing: GoverningTest})
	assert.True(t, eris.Is(err, ErrNoTestSet))
}

func TestSelectorReportsIterations(t *testing.T) {
	all := []string{"a", "b", "c"}
	sc := scenario{features: all, auc: lossAUC(0.99, map[string]float64{"a": 0.2, "b": 0.001, "c": 0.002}, all)}
	train, _ := sc.tables(t)

	var (
		baseline Step
		iters    []Iteration
	)
	sel, err := New(sc.factory(), train, nil, Options{
		Threshold:   0.98,
		OnBaseline:  func(s Step) { baseline = s },
		OnIteration: func(it Iteration) { iters = append(iters, it) },
	})
	require.NoError(t, err)

	traj, err := sel.Run(context.Background(), all)
	require.NoError(t, err)
	require.Len(t, traj, 3)
	assert.Equal(t, traj[0], baseline)

	require.Len(t, iters, 2)
	assert.Equal(t, 1, iters[0].Index)
	assert.Equal(t, traj[0], iters[0].Previous)
	assert.Len(t, iters[0].Trials, 3)
	assert.Equal(t, "b", iters[0].Best.Removed)
	assert.Equal(t, traj[1], iters[1].Previous)
	assert.Equal(t, traj[0], iters[1].Baseline)
	assert.Len(t, iters[1].Trials, 2)
	assert.Equal(t, GoverningTrain, iters[1].Governing)
}

func TestSelectorWorkerFailureAbortsRun(t *testing.T) {
	sc := scenario{
		features: []string{"a", "b", "c"},
		auc:      func([]string, bool) float64 { return 0.99 },
		fail: func(subset []string) error {
			if key(subset) == "a,c" {
				return eris.New("fit exploded")
			}
			return nil
		},
	}
	train, _ := sc.tables(t)
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.9, Workers: 3})
	require.NoError(t, err)

	traj, err := sel.Run(context.Background(), sc.features)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fit exploded")
	assert.Len(t, traj, 1)
}

func TestSelectorDegenerateMetricIsFatal(t *testing.T) {
	// Only signal rows: every AUC is undefined.
	train := dataset.New([]bool{true, true, true})
	require.NoError(t, train.AddColumn("a", []float64{10.5, 10.5, 10.5}))
	require.NoError(t, train.AddColumn("b", []float64{20.5, 20.5, 20.5}))

	sc := scenario{features: []string{"a", "b"}, auc: func([]string, bool) float64 { return 1 }}
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.5})
	require.NoError(t, err)

	_, err = sel.Run(context.Background(), sc.features)
	require.Error(t, err)
}

func TestSelectorRejectsBadFeatures(t *testing.T) {
	sc := scenario{features: []string{"a", "b"}, auc: func([]string, bool) float64 { return 1 }}
	train, test := sc.tables(t)
	sel, err := New(sc.factory(), train, test, Options{Threshold: 0.5})
	require.NoError(t, err)

	_, err = sel.Run(context.Background(), nil)
	assert.True(t, eris.Is(err, ErrNoFeatures))

	_, err = sel.Run(context.Background(), []string{"a", "a"})
	assert.True(t, eris.Is(err, ErrDuplicateFeature))

	_, err = sel.Run(context.Background(), []string{"a", "zz"})
	assert.True(t, eris.Is(err, dataset.ErrMissingColumn))
}

func TestSelectorRetrainOnTest(t *testing.T) {
	sc := scenario{
		features: []string{"a"},
		auc:      func([]string, bool) float64 { return 0.9 },
		fits:     &atomic.Int32{},
	}
	train, test := sc.tables(t)

	sel, err := New(sc.factory(), train, test, Options{Threshold: 0.5})
	require.NoError(t, err)
	_, err = sel.Run(context.Background(), sc.features)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sc.fits.Load())

	sc.fits.Store(0)
	sel, err = New(sc.factory(), train, test, Options{Threshold: 0.5, RetrainOnTest: true})
	require.NoError(t, err)
	_, err = sel.Run(context.Background(), sc.features)
	require.NoError(t, err)
	assert.EqualValues(t, 2, sc.fits.Load())
}

func TestSelectorCancelled(t *testing.T) {
	sc := scenario{features: []string{"a", "b"}, auc: func([]string, bool) float64 { return 1 }}
	train, _ := sc.tables(t)
	sel, err := New(sc.factory(), train, nil, Options{Threshold: 0.5})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sel.Run(ctx, sc.features)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectorIdempotent(t *testing.T) {
	all := []string{"a", "b", "c", "d"}
	sc := scenario{features: all, auc: lossAUC(0.999, map[string]float64{"a": 0.001, "b": 0.002, "c": 0.003, "d": 0.001}, all)}
	train, test := sc.tables(t)

	run := func() Trajectory {
		sel, err := New(sc.factory(), train, test, Options{Threshold: 0.997, Workers: 3})
		require.NoError(t, err)
		traj, err := sel.Run(context.Background(), all)
		require.NoError(t, err)
		return traj
	}
	assert.Equal(t, run(), run())
}

// lambdaTables returns small train and test tables where some features
// carry signal information and others are noise.
func lambdaTables(t *testing.T, features []string, n int) (*dataset.Table, *dataset.Table) {
	t.Helper()
	build := func(seed int64) *dataset.Table {
		rnd := rand.New(rand.NewSource(seed))
		labels := make([]bool, n)
		for i := range labels {
			labels[i] = rnd.Intn(2) == 0
		}
		tab := dataset.New(labels)
		for k, name := range features {
			col := make([]float64, n)
			for i, l := range labels {
				col[i] = rnd.NormFloat64()
				if l {
					col[i] += float64(k) * 0.4
				}
			}
			require.NoError(t, tab.AddColumn(name, col))
		}
		return tab
	}
	return build(11), build(12)
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	features := []string{"noise", "dz", "cosaXY", "chiProb"}
	train, test := lambdaTables(t, features, 300)
	bdt := classifier.NewBDTFactory(classifier.WithNTrees(5), classifier.WithCutLevels(4))

	collect := func(workers int) (Trajectory, []map[string]Scores) {
		var rounds []map[string]Scores
		sel, err := New(bdt, train, test, Options{
			Threshold: 0.5,
			Workers:   workers,
			OnIteration: func(it Iteration) {
				m := map[string]Scores{}
				for _, tr := range it.Trials {
					m[tr.Removed] = tr.Scores
				}
				rounds = append(rounds, m)
			},
		})
		require.NoError(t, err)
		traj, err := sel.Run(context.Background(), features)
		require.NoError(t, err)
		return traj, rounds
	}

	serialTraj, serialRounds := collect(1)
	parallelTraj, parallelRounds := collect(4)
	assert.Equal(t, serialTraj, parallelTraj)
	assert.Equal(t, serialRounds, parallelRounds)
	assert.NotEmpty(t, serialRounds)
}

func TestParallelMapKeepsOrder(t *testing.T) {
	in := make([]int, 50)
	for i := range in {
		in[i] = i
	}
	var running, peak atomic.Int32
	out, err := parallelMap(context.Background(), 4, in, func(_ context.Context, v int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration((50-v)%7) * time.Millisecond)
		running.Add(-1)
		return v * v, nil
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestParallelMapFirstErrorWins(t *testing.T) {
	boom := eris.New("boom")
	var calls atomic.Int32
	_, err := parallelMap(context.Background(), 2, []int{0, 1, 2, 3, 4, 5}, func(ctx context.Context, v int) (int, error) {
		calls.Add(1)
		if v == 1 {
			return 0, boom
		}
		<-time.After(5 * time.Millisecond)
		return v, nil
	})
	assert.True(t, eris.Is(err, boom))
	assert.LessOrEqual(t, calls.Load(), int32(6))
}

func TestParseGoverning(t *testing.T) {
	for in, want := range map[string]Governing{"": GoverningAuto, "auto": GoverningAuto, "Train": GoverningTrain, " test ": GoverningTest} {
		g, err := ParseGoverning(in)
		require.NoError(t, err)
		assert.Equal(t, want, g)
	}
	_, err := ParseGoverning("f1")
	assert.Error(t, err)
}
