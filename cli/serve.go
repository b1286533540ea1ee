package cli

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dust.evalgo.org/api"
	"dust.evalgo.org/common"
	"dust.evalgo.org/config"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the project's datasets, specifications and runs over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, p, st, err := openProject()
		if err != nil {
			return err
		}

		srvCfg := config.LoadServerConfig()
		if cmd.Flags().Changed("port") {
			srvCfg.Port = servePort
		}
		if key := viper.GetString("api-key"); key != "" {
			srvCfg.APIKey = key
		}
		if err := srvCfg.Validate(); err != nil {
			return err
		}

		srv := api.NewServer(st, p, api.Config{
			APIKey: srvCfg.APIKey,
		})

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(fmt.Sprintf(":%d", srvCfg.Port)); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case sig := <-quit:
			common.Logger.WithField("signal", sig.String()).Info("shutting down")
			return srv.Shutdown(srvCfg.ShutdownTimeout)
		}
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8088, "HTTP listen port")
	serveCmd.Flags().String("api-key", "", "API key required in the X-API-Key header")
	_ = viper.BindPFlag("api-key", serveCmd.Flags().Lookup("api-key"))
	RootCmd.AddCommand(serveCmd)
}
