package selection

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dazhiw/b2lambda/classifier"
	"github.com/dazhiw/b2lambda/dataset"
)

// DefaultThreshold is the minimal AUC for the search to continue.
const DefaultThreshold = 0.9975

// Options configures a Selector.
type Options struct {
	// Threshold is the minimal governing AUC to keep removing features.
	Threshold float64
	// Workers bounds the number of concurrent trainings per round.
	Workers int
	// Governing picks the AUC used for ranking and stopping.
	Governing Governing
	// RetrainOnTest fits a second classifier on the test table before
	// scoring it, instead of scoring the training fit. It leaks the test
	// set into the metric and exists only to reproduce old results.
	RetrainOnTest bool

	// OnBaseline, if set, receives the full feature step.
	OnBaseline func(Step)
	// OnIteration, if set, is called after every round.
	OnIteration func(Iteration)
}

// Selector runs backward feature elimination.
type Selector struct {
	eval      *Evaluator
	opts      Options
	governing Governing
}

// New returns a Selector training classifiers from newClassifier on train
// and, if test is not nil, scoring them on test.
func New(newClassifier classifier.Factory, train, test *dataset.Table, opts Options) (*Selector, error) {
	if newClassifier == nil {
		return nil, eris.New("selection: nil classifier factory")
	}
	if train == nil {
		return nil, eris.New("selection: nil training table")
	}
	if math.IsNaN(opts.Threshold) {
		return nil, eris.New("selection: threshold is NaN")
	}
	g, err := opts.Governing.resolve(test != nil)
	if err != nil {
		return nil, err
	}

	eval := NewEvaluator(newClassifier, train, test, opts.Workers)
	eval.retrainOnTest = opts.RetrainOnTest && test != nil
	if eval.retrainOnTest {
		zap.L().Warn("selection: refitting on the test set before scoring it; test AUC is biased")
	}
	return &Selector{eval: eval, opts: opts, governing: g}, nil
}

// Governing returns the resolved metric used for ranking and stopping.
func (s *Selector) Governing() Governing { return s.governing }

// Run eliminates features one at a time and returns the trajectory. The
// first step is the baseline on all features. Rounds continue while the
// last governing AUC is at least the threshold and more than one feature
// is left; the round that drops below the threshold is still recorded.
func (s *Selector) Run(ctx context.Context, features []string) (Trajectory, error) {
	if err := checkFeatures(features); err != nil {
		return nil, err
	}
	if err := dataset.CheckSchema(s.eval.train, s.eval.test, features); err != nil {
		return nil, err
	}
	features = append([]string(nil), features...)

	log := zap.L().With(zap.String("governing", string(s.governing)))
	log.Info("selection: fitting baseline", zap.Int("features", len(features)), zap.Float64("threshold", s.opts.Threshold))

	baseline, err := s.eval.Score(ctx, features)
	if err != nil {
		return nil, eris.Wrap(err, "selection: baseline")
	}
	traj := Trajectory{{NFeatures: len(features), Features: features, Scores: baseline}}
	if s.opts.OnBaseline != nil {
		s.opts.OnBaseline(traj[0])
	}
	log.Info("selection: baseline", zap.Float64("auc", baseline.Value(s.governing)))

	current := baseline.Value(s.governing)
	for round := 1; current >= s.opts.Threshold && len(features) > 1; round++ {
		if err := ctx.Err(); err != nil {
			return traj, err
		}

		trials, err := s.eval.Trials(ctx, features)
		if err != nil {
			return traj, eris.Wrapf(err, "selection: round %d", round)
		}
		best := s.best(trials)

		step := Step{
			NFeatures: len(best.Features),
			Removed:   best.Removed,
			Features:  best.Features,
			Scores:    best.Scores,
		}
		prev := traj.Last()
		traj = append(traj, step)
		current = best.Value(s.governing)
		features = best.Features

		log.Info("selection: removed feature",
			zap.Int("round", round),
			zap.String("removed", best.Removed),
			zap.Int("left", len(features)),
			zap.Float64("auc", current),
		)
		if s.opts.OnIteration != nil {
			s.opts.OnIteration(Iteration{
				Index:     round,
				Baseline:  traj[0],
				Previous:  prev,
				Trials:    trials,
				Best:      best,
				Governing: s.governing,
			})
		}
	}

	if current < s.opts.Threshold {
		log.Info("selection: AUC below threshold", zap.Float64("auc", current))
	}
	return traj, nil
}

// best returns the trial with the highest governing AUC. Ties go to the
// earliest trial.
func (s *Selector) best(trials []Trial) Trial {
	best := trials[0]
	for _, t := range trials[1:] {
		if t.Value(s.governing) > best.Value(s.governing) {
			best = t
		}
	}
	return best
}
