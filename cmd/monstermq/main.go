// Command monstermq runs the broker. Adapted from
// Pyr33x-goqtt/cmd/goqtt/main.go's flat main()-plus-gracefulShutdown
// shape, generalized onto github.com/spf13/cobra (as the pack's
// haivivi/giztoy CLI does) so --config and --node-id become proper
// flags instead of hardcoded paths.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "monstermq",
		Short: "MonsterMQ is an MQTT 3.1.1/5.0 broker",
	}
	root.AddCommand(newServeCmd())
	return root
}
