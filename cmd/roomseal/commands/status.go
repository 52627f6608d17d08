package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// status: show the key state per room, plus in-flight key requests.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show key state per room",
		RunE: func(cmd *cobra.Command, args []string) error {
			rooms, err := appCtx.Rooms.ActiveRooms()
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("no active room keys")
			}
			for _, room := range rooms {
				rk, err := appCtx.Rooms.Get(room)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%s\n", room, rk.State, rk.KeyID)
			}

			if appCtx.Exchange != nil {
				for _, pr := range appCtx.Exchange.PendingRequests() {
					fmt.Printf("%s\trequested %s ago\n",
						pr.RoomID, time.Since(pr.RequestedAt).Round(time.Second))
				}
			}
			return nil
		},
	}
}
