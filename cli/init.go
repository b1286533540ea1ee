package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a new Dust project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}

		root, err := project.Init(path)
		if err != nil {
			return err
		}

		st, err := openStore(root)
		if err != nil {
			return err
		}
		p, err := st.CreateProject(cmd.Context())
		if err != nil {
			return err
		}
		if err := project.SaveID(root, p); err != nil {
			return err
		}

		common.Logger.WithFields(logrus.Fields{
			"path":    root,
			"project": p.ID,
		}).Info("project initialized")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(initCmd)
}
