package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mediaremote",
	Short: "Remote control daemon for media players",
	Long: `mediaremote turns remote control key presses into media player actions.
Holding a volume key steps the volume until the key is released, channel keys
cycle the source list and transport keys are passed through.`,
	SilenceUsage: true,
}

// Execute runs the root command with a context canceled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("socket", "", fmt.Sprintf("Unix domain socket path for IPC (default %q)", defaultSocketPath))
	rootCmd.PersistentFlags().String("log-level", "", "Log level: error, warn, info, debug (default from config, else info)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json (default from config, else text)")
}

// stringFlag returns a pointer to the flag value when the user set it.
func stringFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil
	}
	return &v
}
