package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"frostchat/internal/domain"
)

// startChatCmd registers a chat and, as initiator, runs the key handshake.
// The peer registers their side with --join and receives the key via their
// session runtime.
func startChatCmd() *cobra.Command {
	var join bool
	cmd := &cobra.Command{
		Use:   "start-chat <chat-id> <peer>",
		Short: "Register a chat and establish its session key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat := domain.Chat{ID: args[0], PeerID: args[1], IsInitiator: !join}
			if err := wire.Cache.SaveChat(chat); err != nil {
				return err
			}
			if join {
				fmt.Printf("Joined chat %s with %s. Run listen to receive the key.\n", chat.ID, chat.PeerID)
				return nil
			}

			key, err := wire.Exchange.InitializeChatKey(cmd.Context(), chat, userID)
			if err != nil {
				return fmt.Errorf("starting chat %q: %w", chat.ID, err)
			}
			fmt.Printf("Chat %s created. Key %s is %s.\n", chat.ID, key.ID, key.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&join, "join", false, "register as the non-initiating party")
	return cmd
}
