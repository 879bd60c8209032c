package eventstream

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manifest-network/eventstream/internal/client"
	"github.com/manifest-network/eventstream/internal/utils"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current height of the node and, with --grpc-addr, its available range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			maxRetries := viper.GetUint("max-retries")

			rpc, err := client.NewRPCClient(client.RPCConfig{
				URL:        viper.GetString("rpc-url"),
				Timeout:    viper.GetDuration("request-timeout"),
				MaxRetries: maxRetries,
			})
			if err != nil {
				return err
			}
			current, err := rpc.CurrentHeight(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "current height: %d\n", current)

			addr := viper.GetString("grpc-addr")
			if addr == "" {
				return nil
			}
			gc, err := client.NewGRPCClient(ctx, addr, viper.GetBool("insecure"))
			if err != nil {
				return err
			}
			defer gc.Close()

			latest, err := utils.LatestHeight(gc, maxRetries)
			if err != nil {
				return fmt.Errorf("failed to get latest height: %w", err)
			}
			earliest, err := utils.EarliestHeight(gc, maxRetries)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "latest height: %d\n", latest)
			fmt.Fprintf(out, "earliest height: %d\n", earliest)
			return nil
		},
	}
}
