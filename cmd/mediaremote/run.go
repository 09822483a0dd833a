package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "~/.config/mediaremote/config.yaml"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the remote control daemon",
	Long: `Starts the daemon: reads the configured input devices, serves the IPC
socket and, when metrics.listen is set, the Prometheus metrics endpoint.

Requires read access to the input devices (run as root or add the user to
the 'input' group).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		level, _ := parseLogLevel(cfg.Logging.Level)
		format, _ := parseLogFormat(cfg.Logging.Format)
		logger := setupLogger(os.Stderr, level, format)

		logger.Debug("starting mediaremote", "version", version)
		if err := runDaemon(cmd.Context(), cfg, logger); err != nil {
			logger.Error("daemon stopped", "error", err)
			return err
		}
		logger.Info("shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to the YAML config file")
	runCmd.Flags().StringSlice("input-device", nil, "Linux input event device (repeatable; overrides input.devices)")
	runCmd.Flags().String("transport", "", "Device transport: hass or redis")
	runCmd.Flags().String("hass-url", "", "Home Assistant websocket URL")
	runCmd.Flags().String("hass-token-file", "", "Path to file containing the Home Assistant access token")
	runCmd.Flags().String("redis-addr", "", "Redis address for the redis transport")
	runCmd.Flags().String("metrics-listen", "", "Metrics listen address, e.g. :9105 (empty disables)")
}

// loadConfig layers defaults, the config file and flag overrides, then
// validates the result.
func loadConfig(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return Config{}, err
	}

	devices, _ := cmd.Flags().GetStringSlice("input-device")
	overrides := FlagOverrides{
		InputDevices:  devices,
		TransportKind: stringFlag(cmd, "transport"),
		HASSURL:       stringFlag(cmd, "hass-url"),
		HASSTokenFile: stringFlag(cmd, "hass-token-file"),
		RedisAddr:     stringFlag(cmd, "redis-addr"),
		IPCSocketPath: stringFlag(cmd, "socket"),
		MetricsListen: stringFlag(cmd, "metrics-listen"),
		LogLevel:      stringFlag(cmd, "log-level"),
		LogFormat:     stringFlag(cmd, "log-format"),
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
