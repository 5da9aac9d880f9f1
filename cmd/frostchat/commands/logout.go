package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// logoutCmd wipes every locally cached secret: identity, session keys,
// bootstrap keys and the chat registry. Nothing usable survives on disk.
func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Wipe the local key cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Cache.ClearAll(); err != nil {
				return err
			}
			fmt.Println("Local cache cleared.")
			return nil
		},
	}
}
