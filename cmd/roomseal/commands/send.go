package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"roomseal/internal/domain"
)

// send <room> <message>: encrypt and send a message to a room. With no
// active key the send queues behind a key request until the timeout.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <room> <message>",
		Short: "Encrypt and send a message to a room",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireServer(); err != nil {
				return err
			}
			err := appCtx.Coordinator.Send(cmd.Context(), domain.RoomID(args[0]), []byte(args[1]))
			if errors.Is(err, domain.ErrNoActiveKey) {
				return fmt.Errorf("no key for %s arrived in time. run listen, or genkey if you own the room", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}
