package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <chat-id>",
		Short: "Mint and distribute a fresh key for a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat, ok, err := wire.Cache.Chat(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("unknown chat %q", args[0])
			}
			key, err := wire.Exchange.RotateChatKey(cmd.Context(), chat, userID)
			if err != nil {
				return fmt.Errorf("rotating %q: %w", chat.ID, err)
			}
			fmt.Printf("Rotated %s. New key %s is %s.\n", chat.ID, key.ID, key.Status)
			return nil
		},
	}
}
