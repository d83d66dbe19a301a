// Package cli holds the flag and setup code shared by the command line
// tools.
package cli

import (
	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dazhiw/b2lambda"
	"github.com/dazhiw/b2lambda/dataset"
	"github.com/dazhiw/b2lambda/internal/config"
)

// AddCommonFlags registers the configuration file, logging and profiling
// flags.
func AddCommonFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML configuration file (default ./b2lambda.yaml if present)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console or json)")
	fs.String("profile", "", "write a CPU profile into this directory")
}

// AddDataFlags registers the input ntuple flags.
func AddDataFlags(fs *pflag.FlagSet) {
	fs.String("train", "", "training ntuple")
	fs.String("test", "", "test ntuple (optional)")
	fs.String("tree", b2lambda.TreeName, "tree name in the ntuples")
	fs.String("label", b2lambda.LabelColumn, "truth label branch")
	fs.Int("small", 0, "keep only this many rows of each ntuple (0 keeps all)")
	fs.Int64("seed", 1, "seed for --small row sampling")
}

// AddBDTFlags registers the classifier hyperparameter flags.
func AddBDTFlags(fs *pflag.FlagSet) {
	fs.Int("n-trees", 100, "number of boosted trees")
	fs.Int("depth", 3, "depth of each tree")
	fs.Float64("shrinkage", 0.1, "boosting learning rate")
	fs.Float64("subsample", 0.5, "fraction of rows used for each tree")
	fs.Int("cut-levels", 8, "log2 of the number of cut candidates per feature")
	fs.Int64("bdt-seed", 1, "seed for row subsampling in the classifier")
}

// AddFeatureFlag registers the repeatable --feature flag. Without it the
// configured feature list is used.
func AddFeatureFlag(fs *pflag.FlagSet) {
	fs.Var(&b2lambda.FeatureList{}, "feature", "feature to use; repeat or comma separate (default Lambda0 list)")
}

// AddReportFlags registers the chart output flags.
func AddReportFlags(fs *pflag.FlagSet) {
	fs.String("out-dir", "models", "directory for charts and scored ntuples")
	fs.StringSlice("format", []string{"png"}, "chart file formats")
}

// Setup loads and validates the configuration of cmd and installs the
// global logger.
func Setup(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StartProfile starts CPU profiling when --profile names a directory. The
// returned function stops it.
func StartProfile(cmd *cobra.Command) func() {
	dir, _ := cmd.Flags().GetString("profile")
	if dir == "" {
		return func() {}
	}
	p := profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.Quiet)
	zap.L().Info("cli: CPU profiling", zap.String("dir", dir))
	return p.Stop
}

// LoadTables reads the training and, if configured, test ntuples with the
// given columns, applying data.small. test is nil without a test ntuple.
func LoadTables(cfg *config.Config, columns []string) (train, test *dataset.Table, err error) {
	if err := cfg.RequireTrain(); err != nil {
		return nil, nil, err
	}

	d := cfg.Data
	train, err = loadTable(d.Train, d, columns)
	if err != nil {
		return nil, nil, err
	}
	if d.Test != "" {
		test, err = loadTable(d.Test, d, columns)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := dataset.CheckSchema(train, test, columns); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func loadTable(path string, d config.DataConfig, columns []string) (*dataset.Table, error) {
	t, err := dataset.ReadROOT(path, d.Tree, columns, d.Label)
	if err != nil {
		return nil, err
	}
	t = t.Sample(d.Small, d.Seed)

	nsig, nbkg := t.Counts()
	zap.L().Info("cli: loaded ntuple",
		zap.String("path", path),
		zap.Int("rows", t.Len()),
		zap.Int("signal", nsig),
		zap.Int("background", nbkg),
	)
	if nsig == 0 || nbkg == 0 {
		return nil, eris.Errorf("cli: %s has %d signal and %d background rows, need both", path, nsig, nbkg)
	}
	return t, nil
}
