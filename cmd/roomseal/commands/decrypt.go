package commands

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"roomseal/internal/cipher"
)

// decrypt [frame]: decrypt an envelope frame, either base64 as the
// argument or raw CBOR on stdin.
func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt [frame]",
		Short: "Decrypt an envelope frame",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			if len(args) == 1 {
				raw, err = base64.StdEncoding.DecodeString(args[0])
				if err != nil {
					return fmt.Errorf("bad base64 frame: %w", err)
				}
			} else {
				raw, err = io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
			}

			env, err := cipher.DecodeEnvelope(raw)
			if err != nil {
				return err
			}

			// With a server the coordinator re-requests keys behind
			// stale envelopes; offline we just try the local key.
			if appCtx.Coordinator != nil {
				res := appCtx.Coordinator.Receive(cmd.Context(), env)
				if res.Undecryptable {
					return fmt.Errorf("undecryptable: %v", res.Reason)
				}
				fmt.Printf("%s\n", res.Plaintext)
				return nil
			}
			pt, err := appCtx.Cipher.Decrypt(env)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", pt)
			return nil
		},
	}
}
