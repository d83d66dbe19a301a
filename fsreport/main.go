package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dazhiw/b2lambda/internal/cli"
	"github.com/dazhiw/b2lambda/internal/store"
	"github.com/dazhiw/b2lambda/report"
	"github.com/dazhiw/b2lambda/selection"
)

var rootCmd = &cobra.Command{
	Use:   "fsreport --db <sqlite> [--run <id>] [options]",
	Short: "Render a stored feature selection run",
	Long: `Prints the trajectory table of a run recorded by featsel and redraws its
charts. Without --run the latest run is used. --list prints the stored
runs instead.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	fs := rootCmd.Flags()
	cli.AddCommonFlags(fs)
	cli.AddReportFlags(fs)
	fs.String("db", "", "SQLite database written by featsel")
	fs.String("run", "", "run id (default latest)")
	fs.Bool("list", false, "list stored runs")
	fs.Bool("rounds", false, "also redraw the chart of every round")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	defer zap.L().Sync() //nolint:errcheck

	if cfg.Store.DSN == "" {
		return eris.New("fsreport: --db is required")
	}
	ctx := cmd.Context()
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if list, _ := cmd.Flags().GetBool("list"); list {
		runs, err := st.ListRuns(ctx, 0)
		if err != nil {
			return err
		}
		return writeRuns(cmd.OutOrStdout(), runs)
	}

	id, _ := cmd.Flags().GetString("run")
	var r *store.Run
	if id == "" {
		r, err = st.LatestRun(ctx)
	} else {
		r, err = st.GetRun(ctx, id)
	}
	if err != nil {
		return err
	}

	traj, err := st.Steps(ctx, r.ID)
	if err != nil {
		return err
	}
	if len(traj) == 0 {
		return eris.Errorf("fsreport: run %s has no steps", r.ID)
	}
	zap.L().Info("fsreport: loaded run",
		zap.String("run", r.ID),
		zap.String("status", string(r.Status)),
		zap.Int("steps", len(traj)),
	)

	if err := report.WriteTable(cmd.OutOrStdout(), traj, r.Governing); err != nil {
		return err
	}
	charts := report.Charts{Dir: cfg.Report.OutDir, Formats: cfg.Report.Formats}
	if _, err := charts.Trajectory(traj, r.Governing); err != nil {
		return err
	}

	if rounds, _ := cmd.Flags().GetBool("rounds"); rounds {
		return redrawRounds(ctx, st, r, traj, charts)
	}
	return nil
}

// redrawRounds draws the chart of every stored round again.
func redrawRounds(ctx context.Context, st *store.SQLiteStore, r *store.Run, traj selection.Trajectory, charts report.Charts) error {
	for i := 1; i < len(traj); i++ {
		trials, err := st.Trials(ctx, r.ID, i)
		if err != nil {
			return err
		}
		if len(trials) == 0 {
			zap.L().Warn("fsreport: no trials stored", zap.Int("round", i))
			continue
		}
		step := traj[i]
		it := selection.Iteration{
			Index:     i,
			Baseline:  traj[0],
			Previous:  traj[i-1],
			Trials:    trials,
			Best:      selection.Trial{Removed: step.Removed, Features: step.Features, Scores: step.Scores},
			Governing: r.Governing,
		}
		if _, err := charts.Iteration(it); err != nil {
			return err
		}
	}
	return nil
}

func writeRuns(out io.Writer, runs []store.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSTATUS\tGOVERNING\tFEATURES\tTRAIN")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Status, r.Governing, len(r.Features), r.Train)
	}
	return eris.Wrap(w.Flush(), "fsreport: write runs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
