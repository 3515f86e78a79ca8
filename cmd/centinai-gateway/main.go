// ABOUTME: Entry point for centinai-gateway, the webhook ingestion server
// ABOUTME: Wires the cobra command tree and shared config loading

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/centinai-gateway/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _   _             _
  ___ ___ _ __ | |_(_)_ __   __ _(_)       __ _  __ _| |_ _____      ____ _ _   _
 / __/ _ \ '_ \| __| | '_ \ / _' | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_|  __/ | | | |_| | | | | (_| | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___\___|_| |_|\__|_|_| |_|\__,_|_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                          |___/                             |___/
`

// configPath is bound to the persistent --config flag.
var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "centinai-gateway",
		Short:         "Webhook ingestion and conversation lifecycle gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(),
		"config file (env CENTINAI_CONFIG)")

	root.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newHealthCmd(),
		newAgentsCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "centinai-gateway %s\n", version)
		},
	}
}

// loadConfig reads the file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
