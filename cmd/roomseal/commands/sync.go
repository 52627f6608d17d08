package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sync: bulk-fetch suggested keys for every joined room. Only servers
// with the subscription-key-sync feature answer; older ones make this a
// no-op.
func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Bulk-fetch suggested keys for every joined room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireServer(); err != nil {
				return err
			}
			if err := appCtx.Exchange.SyncSubscriptionKeys(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("synced")
			return nil
		},
	}
}
