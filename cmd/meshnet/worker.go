package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshnet-labs/meshnet/core"
	"github.com/meshnet-labs/meshnet/pkg/config"
)

// identityCompute is a placeholder ComputeFn: it returns the input
// unchanged regardless of layer index. A real deployment replaces this
// with a call into the actual model shard for that layer range.
func identityCompute(input core.Vector, layerIndex uint32) (core.Vector, error) {
	return input, nil
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "worker"}
	cmd.AddCommand(workerServeCmd())
	return cmd
}

func workerServeCmd() *cobra.Command {
	var (
		addr       string
		startLayer uint32
		endLayer   uint32
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "host an activation relay endpoint for a layer range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Relay.ListenAddr
			}
			server, err := core.NewRelayServer(addr, core.RelayServerConfig{
				HMACSecret: []byte(cfg.Relay.HMACSecret),
				StartLayer: startLayer,
				EndLayer:   endLayer,
				Compute:    identityCompute,
			})
			if err != nil {
				return err
			}
			fmt.Printf("relay listening on %s for layers [%d, %d]\n", server.Addr(), startLayer, endLayer)
			return server.Serve()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config relay.listen_addr")
	cmd.Flags().Uint32Var(&startLayer, "start-layer", 0, "first layer served")
	cmd.Flags().Uint32Var(&endLayer, "end-layer", 0, "last layer served (inclusive)")
	return cmd
}
