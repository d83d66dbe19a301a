// Package selection implements greedy backward feature elimination around a
// black-box classifier.
//
// Starting from the full feature list, every round retrains the classifier
// once per feature with that feature left out, keeps the subset whose
// governing AUC is highest, and stops once that AUC drops below a threshold
// or a single feature remains.
package selection

import (
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoFeatures is returned for an empty starting feature list.
	ErrNoFeatures = eris.New("selection: no features")
	// ErrDuplicateFeature is returned when a feature is listed twice.
	ErrDuplicateFeature = eris.New("selection: duplicate feature")
	// ErrNoTestSet is returned when the test AUC must govern but no test
	// table was given.
	ErrNoTestSet = eris.New("selection: test AUC requested without a test set")
)

// Governing names the AUC that ranks candidates and decides when to stop.
type Governing string

const (
	// GoverningAuto uses the test AUC when a test table is given and the
	// training AUC otherwise.
	GoverningAuto  Governing = "auto"
	GoverningTrain Governing = "train"
	GoverningTest  Governing = "test"
)

// ParseGoverning converts a configuration value to a Governing.
func ParseGoverning(s string) (Governing, error) {
	switch g := Governing(strings.ToLower(strings.TrimSpace(s))); g {
	case "", GoverningAuto:
		return GoverningAuto, nil
	case GoverningTrain, GoverningTest:
		return g, nil
	}
	return "", eris.Errorf("selection: unknown governing metric %q (want auto, train or test)", s)
}

// resolve turns auto into train or test depending on the data at hand.
func (g Governing) resolve(haveTest bool) (Governing, error) {
	switch g {
	case "", GoverningAuto:
		if haveTest {
			return GoverningTest, nil
		}
		return GoverningTrain, nil
	case GoverningTest:
		if !haveTest {
			return "", ErrNoTestSet
		}
		return g, nil
	case GoverningTrain:
		return g, nil
	}
	return "", eris.Errorf("selection: unknown governing metric %q", string(g))
}

// Scores holds the AUCs of one trained classifier.
type Scores struct {
	TrainAUC float64
	TestAUC  float64
	HasTest  bool
}

// Value returns the AUC named by g, which must be resolved.
func (s Scores) Value(g Governing) float64 {
	if g == GoverningTest {
		return s.TestAUC
	}
	return s.TrainAUC
}

// Trial is the outcome of retraining without one feature.
type Trial struct {
	Removed  string
	Features []string
	Scores
}

// Step is one point of the selection trajectory. Removed is empty for the
// baseline trained on the full feature list.
type Step struct {
	NFeatures int
	Removed   string
	Features  []string
	Scores
}

// Trajectory is the append-only list of steps, one per feature count.
type Trajectory []Step

// Last returns the final step.
func (t Trajectory) Last() Step {
	return t[len(t)-1]
}

// Iteration describes one completed elimination round.
type Iteration struct {
	// Index counts rounds from 1.
	Index int
	// Baseline is the step trained on the full feature list.
	Baseline Step
	// Previous is the step the round started from.
	Previous Step
	// Trials holds one entry per feature of Previous, in the same order.
	Trials []Trial
	// Best is the winning trial, also appended to the trajectory.
	Best Trial
	// Governing is the resolved metric used for ranking.
	Governing Governing
}

// checkFeatures validates a starting feature list.
func checkFeatures(features []string) error {
	if len(features) == 0 {
		return ErrNoFeatures
	}
	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if f == "" {
			return eris.New("selection: empty feature name")
		}
		if seen[f] {
			return eris.Wrapf(ErrDuplicateFeature, "%q", f)
		}
		seen[f] = true
	}
	return nil
}

// without returns a copy of features with index i omitted.
func without(features []string, i int) []string {
	out := make([]string, 0, len(features)-1)
	out = append(out, features[:i]...)
	return append(out, features[i+1:]...)
}
