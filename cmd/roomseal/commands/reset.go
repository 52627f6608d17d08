package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"roomseal/internal/domain"
)

// reset: replace the identity key pair. Every room key wrapped for the
// old identity becomes unreadable, so fresh keys are requested for the
// rooms named with --rooms.
func resetCmd() *cobra.Command {
	var rooms []string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the identity and start over",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireServer(); err != nil {
				return err
			}

			joined := make([]domain.RoomID, 0, len(rooms))
			for _, r := range rooms {
				joined = append(joined, domain.RoomID(r))
			}
			if err := appCtx.Coordinator.ResetOwnIdentity(cmd.Context(), joined); err != nil {
				return err
			}

			id, ok, err := appCtx.Keys.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("identity missing after reset")
			}
			fmt.Printf("Identity replaced.\nFingerprint: %s\n", id.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&rooms, "rooms", nil, "rooms to re-request keys for")
	return cmd
}
