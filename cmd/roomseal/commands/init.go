package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			id, err := appCtx.Keys.GenerateIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", id.Fingerprint)

			if appCtx.Server != nil {
				if err := appCtx.Server.PublishIdentityKey(cmd.Context(), id.Public); err != nil {
					return err
				}
				fmt.Println("Public key published.")
			}
			return nil
		},
	}
}
