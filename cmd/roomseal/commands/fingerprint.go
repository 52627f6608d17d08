package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			id, ok, err := appCtx.Keys.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no identity. run init first")
			}
			fmt.Println(id.Fingerprint)
			return nil
		},
	}
}
