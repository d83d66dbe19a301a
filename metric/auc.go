// Package metric scores classifier output against truth labels.
package metric

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerate is returned when the area under the ROC curve is undefined,
// for example when only one label class is present.
var ErrDegenerate = eris.New("metric: degenerate input")

// AUC returns the area under the ROC curve of scores against labels, where
// true marks signal. Tied scores contribute half a unit, as for the
// Mann-Whitney statistic. The inputs are not modified.
func AUC(labels []bool, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, eris.Errorf("metric: %d labels but %d scores", len(labels), len(scores))
	}

	nsig := 0
	for i, l := range labels {
		if math.IsNaN(scores[i]) {
			return 0, eris.Wrapf(ErrDegenerate, "NaN score at row %d", i)
		}
		if l {
			nsig++
		}
	}
	if nsig == 0 || nsig == len(labels) {
		return 0, eris.Wrapf(ErrDegenerate, "%d signal out of %d rows", nsig, len(labels))
	}

	fpr, tpr := roc(labels, scores)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ROC returns the false and true positive rates over all score cuts, with
// fpr ascending from 0 to 1. It fails on the same inputs as AUC.
func ROC(labels []bool, scores []float64) (fpr, tpr []float64, err error) {
	if _, err := AUC(labels, scores); err != nil {
		return nil, nil, err
	}
	fpr, tpr = roc(labels, scores)
	return fpr, tpr, nil
}

func roc(labels []bool, scores []float64) (fpr, tpr []float64) {
	y, classes := ROCInputs(labels, scores)
	tpr, fpr, _ = stat.ROC(nil, y, classes, nil)
	return fpr, tpr
}

// ROCInputs copies scores and labels and sorts them by ascending score, the
// order gonum's stat.ROC expects.
func ROCInputs(labels []bool, scores []float64) ([]float64, []bool) {
	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(labels))
	copy(classes, labels)
	stat.SortWeightedLabeled(y, classes, nil)
	return y, classes
}
