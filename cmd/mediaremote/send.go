package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mediaremote/internal/mediaplayer"
)

var sendCmd = &cobra.Command{
	Use:   "send <player> <action>",
	Short: "Send one action to a running daemon",
	Long:  "Sends an action to a player over the daemon's IPC socket.\n\nActions: " + actionList(),
	Example: `  mediaremote send media_player.living_room next_source
  mediaremote send media_player.living_room hold_volume_up && sleep 2 && \
    mediaremote send media_player.living_room release`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := ActionRequest{Player: args[0], Action: mediaplayer.Action(args[1])}
		if !req.Action.Valid() {
			return fmt.Errorf("%w: %q (valid: %s)", mediaplayer.ErrUnknownAction, args[1], actionList())
		}

		socket := defaultSocketPath
		if s := stringFlag(cmd, "socket"); s != nil {
			socket = *s
		}
		if err := SendIPCRequest(cmd.Context(), socket, req); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func actionList() string {
	names := make([]string, 0, len(mediaplayer.Actions()))
	for _, a := range mediaplayer.Actions() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
