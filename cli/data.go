package cli

import (
	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dust.evalgo.org/common"
	"dust.evalgo.org/data"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Manage versioned JSONL datasets",
}

var dataRegisterCmd = &cobra.Command{
	Use:   "register <data_id> <jsonl_path>",
	Short: "Register or update a JSONL dataset version under the provided id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataID, jsonlPath := args[0], args[1]

		root, p, st, err := openProject()
		if err != nil {
			return err
		}

		d, err := data.FromJSONL(dataID, jsonlPath)
		if err != nil {
			return err
		}
		if err := d.Register(root); err != nil {
			return err
		}
		if err := st.RegisterDataset(cmd.Context(), p, d); err != nil {
			return err
		}

		common.Logger.WithFields(logrus.Fields{
			"dataset": dataID,
			"hash":    d.Hash,
			"records": humanize.Comma(int64(d.Len())),
			"keys":    d.Keys,
		}).Info("dataset version registered")
		return nil
	},
}

var dataListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered datasets and their versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, p, st, err := openProject()
		if err != nil {
			return err
		}

		datasets, err := st.ListDatasets(cmd.Context(), p)
		if err != nil {
			return err
		}
		for id, versions := range datasets {
			for _, v := range versions {
				common.Logger.WithFields(logrus.Fields{
					"dataset": id,
					"hash":    v.Hash,
					"created": humanize.Time(msToTime(v.Created)),
				}).Info("dataset version")
			}
		}
		return nil
	},
}

func init() {
	dataCmd.AddCommand(dataRegisterCmd)
	dataCmd.AddCommand(dataListCmd)
	RootCmd.AddCommand(dataCmd)
}
