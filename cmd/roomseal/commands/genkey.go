package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"roomseal/internal/domain"
)

// genkey <room>: mint a fresh room key and wrap it for every member.
func genkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey <room>",
		Short: "Generate and distribute a fresh room key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireServer(); err != nil {
				return err
			}
			keyID, err := appCtx.Coordinator.GenerateRoomKey(cmd.Context(), domain.RoomID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("Room key %s active for %s.\n", keyID, args[0])
			return nil
		},
	}
}
