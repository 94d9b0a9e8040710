// Command busd is the CLI entrypoint for the coordination daemon: a
// thin wrapper around internal/daemon that dispatches serve/status/stop
// subcommands, none of which carry the daemon's own invariants.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coven/busd/internal/busaddr"
	"github.com/coven/busd/internal/daemon"
	"github.com/spf13/cobra"
)

var version = "dev"

var workspace string

func main() {
	rootCmd := &cobra.Command{
		Use:     "busd",
		Short:   "busd runs and controls the per-workspace coordination daemon",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "path to workspace directory")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newStopCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func requireWorkspace() error {
	if workspace == "" {
		return fmt.Errorf("--workspace is required")
	}
	return nil
}

// newServeCommand tries connecting as a client first: if a daemon
// already answers the derived socket, this process silently becomes a
// client rather than erroring. Otherwise it runs the daemon in-process,
// degrading to client mode if it loses a startup race.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}

			socketPath := busaddr.SocketPath(workspace)
			if probeDaemon(socketPath) {
				fmt.Println("busd: daemon already running, nothing to do")
				return nil
			}

			d, err := daemon.New(workspace, version)
			if err != nil {
				return err
			}

			if err := d.Run(context.Background()); err != nil {
				if isAddrInUse(err) {
					fmt.Println("busd: lost startup race to another instance, running as client")
					return nil
				}
				return err
			}
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the daemon's current worker and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}

			resp, err := dialAndCall(busaddr.SocketPath(workspace), "get_status", nil)
			if err != nil {
				return err
			}
			fmt.Println(string(resp))
			return nil
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Request a graceful shutdown of the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}

			if err := requestShutdown(busaddr.SocketPath(workspace)); err != nil {
				return err
			}
			fmt.Println("busd: shutdown requested")
			return nil
		},
	}
}
