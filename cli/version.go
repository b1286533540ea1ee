package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dust.evalgo.org/common"
	"dust.evalgo.org/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		bi := version.Get()
		common.Logger.WithFields(logrus.Fields{
			"version":  bi.Version,
			"go":       bi.GoVersion,
			"module":   bi.MainModule,
			"revision": bi.Revision,
		}).Info("dust")
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
