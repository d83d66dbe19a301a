package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dazhiw/b2lambda/internal/cli"
	"github.com/dazhiw/b2lambda/internal/config"
	"github.com/dazhiw/b2lambda/internal/store"
	"github.com/dazhiw/b2lambda/report"
	"github.com/dazhiw/b2lambda/selection"
)

var rootCmd = &cobra.Command{
	Use:   "featsel --train <ntuple> [--test <ntuple>] [options]",
	Short: "Backward feature selection for the Lambda0 classifier",
	Long: `Starting from the full feature list, retrains the classifier once per
feature with that feature left out and drops the feature whose removal
hurts the AUC least. Stops after the first removal that brings the AUC
below the threshold, or when one feature is left.

A chart of every round is written to the output directory, followed by the
trajectory chart and table.`,
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
	fs.Float64("threshold", selection.DefaultThreshold, "minimal AUC to keep removing features")
	fs.Int("workers", 8, "concurrent trainings per round")
	fs.String("governing", "auto", "AUC used for ranking and stopping (auto, train or test)")
	fs.Bool("retrain-on-test", false, "refit on the test set before scoring it (biased, for comparison with old results)")
	fs.String("db", "", "SQLite database recording the run (disabled if empty)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	defer zap.L().Sync() //nolint:errcheck
	defer cli.StartProfile(cmd)()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	features := cfg.Selection.Features
	train, test, err := cli.LoadTables(cfg, features)
	if err != nil {
		return err
	}

	rec, err := newRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer rec.close()

	opts := cfg.SelectionOptions()
	opts.OnBaseline = rec.baseline
	opts.OnIteration = rec.iteration

	sel, err := selection.New(cfg.BDT.Factory(), train, test, opts)
	if err != nil {
		return err
	}
	if err := rec.start(cfg, sel.Governing()); err != nil {
		return err
	}

	traj, err := sel.Run(ctx, features)
	if err != nil {
		rec.finish(store.RunStatusFailed)
		return err
	}

	if err := report.WriteTable(cmd.OutOrStdout(), traj, sel.Governing()); err != nil {
		rec.finish(store.RunStatusFailed)
		return err
	}
	if _, err := rec.charts.Trajectory(traj, sel.Governing()); err != nil {
		rec.finish(store.RunStatusFailed)
		return err
	}
	if err := rec.err; err != nil {
		rec.finish(store.RunStatusFailed)
		return err
	}
	rec.finish(store.RunStatusComplete)

	last := traj.Last()
	zap.L().Info("featsel: done",
		zap.Int("steps", len(traj)),
		zap.Int("features", last.NFeatures),
		zap.Strings("kept", last.Features),
	)
	return nil
}

// recorder streams selection progress to charts and the optional run store.
// Its callbacks run on the selector goroutine.
type recorder struct {
	ctx    context.Context
	charts report.Charts
	store  *store.SQLiteStore
	run    *store.Run
	err    error
}

func newRecorder(ctx context.Context, cfg *config.Config) (*recorder, error) {
	r := &recorder{
		ctx:    ctx,
		charts: report.Charts{Dir: cfg.Report.OutDir, Formats: cfg.Report.Formats},
	}
	if cfg.Store.DSN == "" {
		return r, nil
	}
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	r.store = st
	return r, nil
}

// start records a new run in the store, if any.
func (r *recorder) start(cfg *config.Config, governing selection.Governing) error {
	if r.store == nil {
		return nil
	}
	run, err := r.store.CreateRun(r.ctx, store.RunParams{
		Train:     cfg.Data.Train,
		Test:      cfg.Data.Test,
		Features:  cfg.Selection.Features,
		Threshold: cfg.Selection.Threshold,
		Governing: governing,
	})
	if err != nil {
		return err
	}
	zap.L().Info("featsel: recording run", zap.String("run", run.ID), zap.String("db", cfg.Store.DSN))
	r.run = run
	return nil
}

func (r *recorder) fail(err error) {
	zap.L().Error("featsel: recording progress", zap.Error(err))
	if r.err == nil {
		r.err = err
	}
}

func (r *recorder) baseline(step selection.Step) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendStep(r.ctx, r.run.ID, 0, step); err != nil {
		r.fail(err)
	}
}

func (r *recorder) iteration(it selection.Iteration) {
	paths, err := r.charts.Iteration(it)
	if err != nil {
		r.fail(eris.Wrapf(err, "featsel: chart of round %d", it.Index))
	} else {
		zap.L().Debug("featsel: wrote chart", zap.Strings("files", paths))
	}

	if r.store == nil {
		return
	}
	if err := r.store.AppendTrials(r.ctx, r.run.ID, it.Index, it.Trials); err != nil {
		r.fail(err)
	}
	step := selection.Step{
		NFeatures: len(it.Best.Features),
		Removed:   it.Best.Removed,
		Features:  it.Best.Features,
		Scores:    it.Best.Scores,
	}
	if err := r.store.AppendStep(r.ctx, r.run.ID, it.Index, step); err != nil {
		r.fail(err)
	}
}

func (r *recorder) finish(status store.RunStatus) {
	if r.store == nil {
		return
	}
	// The run context may already be cancelled.
	if err := r.store.FinishRun(context.WithoutCancel(r.ctx), r.run.ID, status); err != nil {
		zap.L().Error("featsel: finish run", zap.Error(err))
	}
}

func (r *recorder) close() {
	if r.store != nil {
		r.store.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
