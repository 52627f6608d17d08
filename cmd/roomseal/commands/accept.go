package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"roomseal/internal/domain"
)

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <room>",
		Short: "Accept the suggested key for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			if err := appCtx.Exchange.AcceptSuggestedKey(cmd.Context(), domain.RoomID(args[0])); err != nil {
				return err
			}
			fmt.Println("accepted")
			return nil
		},
	}
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <room>",
		Short: "Reject the suggested key for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			if err := appCtx.Exchange.RejectSuggestedKey(cmd.Context(), domain.RoomID(args[0])); err != nil {
				return err
			}
			fmt.Println("rejected")
			return nil
		},
	}
}
