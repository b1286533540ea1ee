// Package cli provides the command-line surface of the Dust execution
// engine: project initialization, dataset registration, app runs, run
// listing and the optional HTTP API server. Configuration follows 12-factor
// conventions: flags take precedence over environment variables (prefix
// DUST) which take precedence over an optional config file.
package cli

import (
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dust.evalgo.org/common"
	"dust.evalgo.org/config"
	"dust.evalgo.org/project"
	"dust.evalgo.org/store"
)

// cfgFile holds the path to the configuration file specified via
// command-line flag. When empty, $HOME/.dust.yaml and ./.dust.yaml are
// searched.
var cfgFile string

// RootCmd is the entry command of the CLI.
var RootCmd = &cobra.Command{
	Use:   "dust",
	Short: "Declarative app execution over versioned datasets",
	Long: `dust executes declarative apps - ordered lists of typed blocks - over
versioned JSONL datasets, producing reproducible content-addressed runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns a process exit code.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		common.Logger.Error(err.Error())
		return 1
	}
	return 0
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.dust.yaml)")
}

// initConfig reads the optional config file and binds DUST_* environment
// variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".dust")
	}
	viper.SetEnvPrefix("DUST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		common.Logger.WithField("config", viper.ConfigFileUsed()).Debug("config file loaded")
	}
}

// openProject resolves the current project directory and opens its store:
// the embedded engine at the project root by default, PostgreSQL when
// DUST_STORE_POSTGRES_DSN is set.
func openProject() (string, project.Project, store.Store, error) {
	root, err := project.Root()
	if err != nil {
		return "", project.Project{}, nil, err
	}
	p, err := project.LoadID(root)
	if err != nil {
		return "", project.Project{}, nil, err
	}
	st, err := openStore(root)
	if err != nil {
		return "", project.Project{}, nil, err
	}
	return root, p, st, nil
}

func openStore(root string) (store.Store, error) {
	if cfg := config.LoadStoreConfig(); cfg.UsePostgres() {
		return store.NewPostgres(cfg.PostgresDSN)
	}
	return store.NewSQLite(project.StorePath(root))
}

// credentials assembles the run's credential snapshot from the
// `credentials` section of the config file. Keys absent from the snapshot
// fall back to process environment variables at the point of use.
func credentials() map[string]string {
	out := map[string]string{}
	for k, v := range viper.GetStringMapString("credentials") {
		out[strings.ToUpper(k)] = v
	}
	return out
}
