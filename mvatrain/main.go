package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dazhiw/b2lambda"
	"github.com/dazhiw/b2lambda/classifier"
	"github.com/dazhiw/b2lambda/dataset"
	"github.com/dazhiw/b2lambda/internal/cli"
	"github.com/dazhiw/b2lambda/metric"
	"github.com/dazhiw/b2lambda/report"
)

var rootCmd = &cobra.Command{
	Use:   "mvatrain --train <ntuple> [--test <ntuple>] [options]",
	Short: "Train the Lambda0 classifier on one feature list",
	Long: `Fits the boosted decision tree on the training ntuple and reports its
AUC on the training and test ntuples. Writes score distribution and ROC
charts, and with --write-scored a copy of each ntuple with an mva branch.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	fs := rootCmd.Flags()
	cli.AddCommonFlags(fs)
	cli.AddDataFlags(fs)
	cli.AddFeatureFlag(fs)
	cli.AddBDTFlags(fs)
	cli.AddReportFlags(fs)
	fs.Bool("write-scored", false, "write scored ntuples with an "+b2lambda.ScoreColumn+" branch to the output directory")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	defer zap.L().Sync() //nolint:errcheck
	defer cli.StartProfile(cmd)()

	features := cfg.Selection.Features
	train, test, err := cli.LoadTables(cfg, features)
	if err != nil {
		return err
	}

	clf := cfg.BDT.Factory()()
	X, err := train.Matrix(features)
	if err != nil {
		return err
	}
	if err := clf.Fit(X, train.Labels()); err != nil {
		return eris.Wrap(err, "mvatrain: fit")
	}

	type split struct {
		name  string
		path  string
		table *dataset.Table
	}
	splits := []split{{"train", cfg.Data.Train, train}}
	if test != nil {
		splits = append(splits, split{"test", cfg.Data.Test, test})
	}

	writeScored, _ := cmd.Flags().GetBool("write-scored")
	var samples []report.Sample
	for _, s := range splits {
		scores, err := predict(clf, s.table, features)
		if err != nil {
			return err
		}
		auc, err := metric.AUC(s.table.Labels(), scores)
		if err != nil {
			return eris.Wrapf(err, "mvatrain: %s AUC", s.name)
		}
		zap.L().Info("mvatrain: AUC", zap.String("split", s.name), zap.Float64("auc", auc))
		samples = append(samples, report.Sample{Name: s.name, Labels: s.table.Labels(), Scores: scores})

		if writeScored {
			if err := writeScoredTable(cfg.Report.OutDir, s.path, cfg.Data.Tree, cfg.Data.Label, s.table, scores); err != nil {
				return err
			}
		}
	}

	charts := report.Charts{Dir: cfg.Report.OutDir, Formats: cfg.Report.Formats}
	if _, err := charts.Scores("scores", samples...); err != nil {
		return err
	}
	if _, err := charts.ROC("roc", samples...); err != nil {
		return err
	}
	return nil
}

func predict(clf classifier.Classifier, t *dataset.Table, features []string) ([]float64, error) {
	X, err := t.Matrix(features)
	if err != nil {
		return nil, err
	}
	scores, err := clf.Predict(X)
	return scores, eris.Wrap(err, "mvatrain: predict")
}

// writeScoredTable writes t with the classifier output into dir, named
// after the input ntuple.
func writeScoredTable(dir, input, tree, label string, t *dataset.Table, scores []float64) error {
	scored, err := t.WithColumn(b2lambda.ScoreColumn, scores)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "mvatrain: create %s", dir)
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(dir, base+"_"+b2lambda.ScoreColumn+".root")
	if err := dataset.WriteROOT(out, tree, scored, label); err != nil {
		return err
	}
	zap.L().Info("mvatrain: wrote scored ntuple", zap.String("path", out), zap.Int("rows", scored.Len()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
