package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"roomseal/internal/domain"
)

// request <room>: broadcast a key request to the room's members. The
// answer arrives on the event stream; run listen to pick it up.
func requestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <room>",
		Short: "Ask the room's members for the current key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			if err := appCtx.Exchange.RequestRoomKey(cmd.Context(), domain.RoomID(args[0])); err != nil {
				return err
			}
			fmt.Println("requested")
			return nil
		},
	}
}
