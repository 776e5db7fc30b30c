package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/target"
)

func newTargetCmd(v *viper.Viper) *cobra.Command {
	targetCmd := &cobra.Command{
		Use:   "target",
		Short: "Start a local HTTP service to run load tests against",
		Long: `Start a small HTTP service exposing /health, /hello, /hello-resty,
/status/{code}, /delay/{ms} and /json. It stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(v.GetString("log-level"), v.GetString("log-format"))
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return target.NewServer(v.GetString("addr"), logger).Run(ctx)
		},
	}

	targetCmd.Flags().String("addr", ":8080", "address to listen on")

	return targetCmd
}
