// Package eventstream is the eventstream command line.
package eventstream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manifest-network/eventstream/internal/logging"
)

const envPrefix = "EVENTSTREAM"

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "eventstream",
		Short: "Stream Tendermint blocks in height order",
		Long: `eventstream delivers the blocks of a Tendermint chain in strictly increasing height order.
Past heights are fetched page by page over RPC, new heights arrive over the websocket
subscription, and any heights missed in between are backfilled.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfgFile); err != nil {
				return err
			}
			return logging.Setup(cmd.ErrOrStderr(), viper.GetString("log-level"), viper.GetString("log-format"))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./eventstream.yaml or $HOME/.eventstream/eventstream.yaml)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", logging.FormatText, "log format (text|json)")
	flags.String("rpc-url", "http://localhost:26657", "Tendermint RPC address")
	flags.String("grpc-addr", "", "Cosmos gRPC address, used for the node status and the earliest available height")
	flags.Bool("insecure", false, "use a plaintext gRPC connection")
	flags.Uint("max-retries", 3, "maximum number of retries for failed requests")
	flags.Duration("request-timeout", 30*time.Second, "timeout of a single request")
	cobra.CheckErr(viper.BindPFlags(flags))

	cmd.AddCommand(newStreamCmd(), newStatusCmd(), newVersionCmd())
	return cmd
}

// initConfig reads the config file, if any, and the EVENTSTREAM_* environment variables.
func initConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("eventstream")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.eventstream")
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	slog.Debug("Using config file", "file", viper.ConfigFileUsed())
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
