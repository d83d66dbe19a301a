package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"

	"github.com/dazhiw/b2lambda/selection"
)

// WriteTable prints the best AUC for each number of features, one row per
// step. The governing column is marked with '*'.
func WriteTable(out io.Writer, traj selection.Trajectory, governing selection.Governing) error {
	hasTest := len(traj) > 0 && traj[0].HasTest

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := []string{"N", "REMOVED", mark("TRAIN AUC", governing == selection.GoverningTrain)}
	if hasTest {
		header = append(header, mark("TEST AUC", governing == selection.GoverningTest))
	}
	header = append(header, "FEATURES")
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, s := range traj {
		removed := s.Removed
		if removed == "" {
			removed = "-"
		}
		row := []string{strconv.Itoa(s.NFeatures), removed, formatAUC(s.TrainAUC)}
		if hasTest {
			row = append(row, formatAUC(s.TestAUC))
		}
		row = append(row, strings.Join(s.Features, ","))
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return eris.Wrap(w.Flush(), "report: write table")
}

func mark(s string, governing bool) string {
	if governing {
		return s + "*"
	}
	return s
}

func formatAUC(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}
