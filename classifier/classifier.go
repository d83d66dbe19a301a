// Package classifier provides binary signal/background classifiers.
package classifier

import (
	"github.com/rotisserie/eris"
)

var (
	// ErrEmpty is returned when fitting on no rows or no features.
	ErrEmpty = eris.New("classifier: empty training set")
	// ErrSingleClass is returned when the training labels hold one class only.
	ErrSingleClass = eris.New("classifier: training set has a single class")
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = eris.New("classifier: not fitted")
)

// Classifier is a binary classifier. Predict returns a continuous score per
// row; larger means more signal-like.
type Classifier interface {
	Fit(X [][]float64, y []bool) error
	Predict(X [][]float64) ([]float64, error)
}

// Factory returns a fresh, unfitted Classifier. Every call must return a new
// instance so that concurrent trainings do not share state.
type Factory func() Classifier

// validate checks the shape of a training set and returns its width.
func validate(X [][]float64, y []bool) (int, error) {
	if len(X) == 0 {
		return 0, eris.Wrap(ErrEmpty, "no rows")
	}
	if len(y) != len(X) {
		return 0, eris.Errorf("classifier: %d rows but %d labels", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return 0, eris.Wrap(ErrEmpty, "no features")
	}
	for i := range X {
		if len(X[i]) != p {
			return 0, eris.Errorf("classifier: row %d has %d features, want %d", i, len(X[i]), p)
		}
	}

	nsig := 0
	for _, l := range y {
		if l {
			nsig++
		}
	}
	if nsig == 0 || nsig == len(y) {
		return 0, eris.Wrapf(ErrSingleClass, "%d signal out of %d rows", nsig, len(y))
	}
	return p, nil
}
