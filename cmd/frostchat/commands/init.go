package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate the device identity and publish its public half",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wire.Identity.EnsureIdentity(cmd.Context(), userID); err != nil {
				return err
			}
			fp, err := wire.Identity.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Printf("Identity ready for %s.\nFingerprint: %s\n", userID, fp)
			return nil
		},
	}
}
