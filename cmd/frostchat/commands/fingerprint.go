package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [peer]",
		Short: "Print an identity fingerprint for out-of-band verification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				fp, err := wire.Identity.PeerFingerprint(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", args[0], fp)
				return nil
			}
			fp, err := wire.Identity.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", fp)
			return nil
		},
	}
}
