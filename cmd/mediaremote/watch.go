package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mediaremote/internal/device"
	"mediaremote/internal/device/redisstate"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print player state changes (or published commands for the redis transport)",
	Long: `Connects with the configured transport and prints what the daemon would see.

With the hass transport, the configured players are polled and a line is
printed whenever volume or source changes. With the redis transport, every
command published on the command channel is printed as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")

		level, _ := parseLogLevel(cfg.Logging.Level)
		format, _ := parseLogFormat(cfg.Logging.Format)
		logger := setupLogger(os.Stderr, level, format)

		return runWatch(cmd.Context(), cfg, interval, cmd.OutOrStdout(), logger)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to the YAML config file")
	watchCmd.Flags().Duration("interval", 500*time.Millisecond, "Polling interval for the hass transport")
}

func runWatch(ctx context.Context, cfg Config, interval time.Duration, out io.Writer, logger *slog.Logger) error {
	transport, err := newTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	if store, ok := transport.(*redisstate.Store); ok {
		return watchCommands(ctx, store, out)
	}

	players := make([]string, 0, len(cfg.Players))
	for _, p := range cfg.Players {
		players = append(players, p.EntityID)
	}
	return pollPlayers(ctx, transport, players, interval, out)
}

// watchCommands prints published commands until ctx is canceled.
func watchCommands(ctx context.Context, store *redisstate.Store, out io.Writer) error {
	sub := store.Subscribe(ctx)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", store.CommandChannel(), err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, msg.Payload)
		}
	}
}

// pollPlayers prints a summary line per player whenever it changes.
func pollPlayers(ctx context.Context, transport device.Transport, players []string, interval time.Duration, out io.Writer) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]string, len(players))
	for {
		for _, p := range players {
			line := playerSummary(ctx, transport, p)
			if ctx.Err() != nil {
				return nil
			}
			if line != last[p] {
				last[p] = line
				fmt.Fprintf(out, "%s %s\n", p, line)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func playerSummary(ctx context.Context, transport device.Transport, entityID string) string {
	attrs, err := transport.Attributes(ctx, entityID)
	if err != nil {
		return "unavailable"
	}
	return fmt.Sprintf("volume_level=%v source=%v", attrs["volume_level"], attrs["source"])
}
