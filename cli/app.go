package cli

import (
	"os"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dust.evalgo.org/app"
	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
	"dust.evalgo.org/run"
)

var runConcurrency int64

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Run the app on a dataset",
}

var appRunCmd = &cobra.Command{
	Use:   "run <data_id> <config_path>",
	Short: "Run the app on registered data using the specified run config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataID, configPath := args[0], args[1]

		root, p, st, err := openProject()
		if err != nil {
			return err
		}

		specText, err := os.ReadFile(project.SpecPath(root))
		if err != nil {
			return err
		}
		a, err := app.New(string(specText))
		if err != nil {
			return err
		}
		if err := st.RegisterSpecification(cmd.Context(), p, a.SpecHash(), a.SpecText()); err != nil {
			return err
		}

		rawConfig, err := os.ReadFile(configPath)
		if err != nil {
			return err
		}
		cfg, err := run.ParseRunConfig(rawConfig)
		if err != nil {
			return err
		}

		started := time.Now()
		r, err := a.Run(cmd.Context(), app.RunParams{
			Project:     p,
			Store:       st,
			DatasetID:   dataID,
			Config:      cfg,
			Credentials: credentials(),
			Concurrency: runConcurrency,
		})
		if err != nil {
			return err
		}

		for _, bs := range r.Status.Blocks {
			common.Logger.WithFields(logrus.Fields{
				"block":   bs.Name,
				"type":    bs.BlockType,
				"success": bs.SuccessCount,
				"errors":  bs.ErrorCount,
			}).Info("block finished")
		}
		common.Logger.WithFields(logrus.Fields{
			"run_id":   r.RunID,
			"status":   r.Status.Status,
			"app_hash": r.AppHash,
			"duration": humanize.RelTime(started, time.Now(), "", ""),
		}).Info("run finished")
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs of the current project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, p, st, err := openProject()
		if err != nil {
			return err
		}

		runs, err := st.AllRuns(cmd.Context(), p)
		if err != nil {
			return err
		}
		for _, r := range runs {
			common.Logger.WithFields(logrus.Fields{
				"run_id":   r.RunID,
				"app_hash": r.AppHash,
				"created":  humanize.Time(msToTime(r.Created)),
			}).Info("run")
		}
		return nil
	},
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func init() {
	appCmd.AddCommand(appRunCmd)
	appRunCmd.Flags().Int64VarP(&runConcurrency, "concurrency", "c", app.DefaultConcurrency,
		"maximum concurrent block executions")
	runsCmd.AddCommand(runsListCmd)
	RootCmd.AddCommand(appCmd)
	RootCmd.AddCommand(runsCmd)
}
