package selection

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/dazhiw/b2lambda/classifier"
	"github.com/dazhiw/b2lambda/dataset"
	"github.com/dazhiw/b2lambda/metric"
)

// parallelMap returns fn applied to every element of in, with out[i]
// belonging to in[i] whatever the completion order. At most workers calls
// run at once. The first error cancels the context handed to the other
// calls; every started call has returned before parallelMap does.
func parallelMap[In, Out any](ctx context.Context, workers int, in []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(in))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range in {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := fn(gctx, in[i])
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The loop may have stopped early on a cancelled parent without any
	// call failing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluator trains and scores classifiers on feature subsets. It only
// reads its tables, so one Evaluator serves any number of goroutines.
type Evaluator struct {
	newClassifier classifier.Factory
	train         *dataset.Table
	test          *dataset.Table
	retrainOnTest bool
	workers       int
}

// NewEvaluator returns an Evaluator running at most workers trainings at
// once. test may be nil.
func NewEvaluator(newClassifier classifier.Factory, train, test *dataset.Table, workers int) *Evaluator {
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		newClassifier: newClassifier,
		train:         train,
		test:          test,
		workers:       workers,
	}
}

// Score fits a fresh classifier on features of the training table and
// returns its training AUC and, when a test table is set, the test AUC of
// the same fitted model.
func (e *Evaluator) Score(ctx context.Context, features []string) (Scores, error) {
	if len(features) == 0 {
		return Scores{}, ErrNoFeatures
	}

	X, err := e.train.Matrix(features)
	if err != nil {
		return Scores{}, err
	}
	clf := e.newClassifier()
	if err := clf.Fit(X, e.train.Labels()); err != nil {
		return Scores{}, eris.Wrapf(err, "selection: fit %v", features)
	}
	if err := ctx.Err(); err != nil {
		return Scores{}, err
	}

	scores, err := e.auc(clf, X, e.train.Labels())
	if err != nil {
		return Scores{}, eris.Wrapf(err, "selection: train AUC for %v", features)
	}
	out := Scores{TrainAUC: scores}
	if e.test == nil {
		return out, nil
	}

	Xt, err := e.test.Matrix(features)
	if err != nil {
		return Scores{}, err
	}
	model := clf
	if e.retrainOnTest {
		model = e.newClassifier()
		if err := model.Fit(Xt, e.test.Labels()); err != nil {
			return Scores{}, eris.Wrapf(err, "selection: refit on test %v", features)
		}
	}
	out.TestAUC, err = e.auc(model, Xt, e.test.Labels())
	if err != nil {
		return Scores{}, eris.Wrapf(err, "selection: test AUC for %v", features)
	}
	out.HasTest = true
	return out, nil
}

func (e *Evaluator) auc(clf classifier.Classifier, X [][]float64, labels []bool) (float64, error) {
	pred, err := clf.Predict(X)
	if err != nil {
		return 0, err
	}
	return metric.AUC(labels, pred)
}

// Trials scores every subset of features with exactly one feature left out.
// trials[i] omits features[i]. Any failure fails the whole call.
func (e *Evaluator) Trials(ctx context.Context, features []string) ([]Trial, error) {
	candidates := make([]int, len(features))
	for i := range candidates {
		candidates[i] = i
	}
	return parallelMap(ctx, e.workers, candidates, func(ctx context.Context, i int) (Trial, error) {
		subset := without(features, i)
		s, err := e.Score(ctx, subset)
		if err != nil {
			return Trial{}, eris.Wrapf(err, "selection: trial without %q", features[i])
		}
		return Trial{Removed: features[i], Features: subset, Scores: s}, nil
	})
}
