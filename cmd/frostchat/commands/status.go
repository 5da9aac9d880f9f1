package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd shows a chat's key records alongside what this device holds.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <chat-id>",
		Short: "Show a chat's session keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := args[0]
			keys, err := wire.Keys.SessionKeysByChat(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Printf("No keys recorded for %s.\n", chatID)
				return nil
			}
			for _, k := range keys {
				cached := " "
				if _, ok, _ := wire.Cache.KeyByID(k.ID); ok {
					cached = "*"
				}
				fmt.Printf("%s %-36s %-8s sender_ack=%-5t receiver_ack=%-5t rotated=%s\n",
					cached, k.ID, k.Status, k.SenderAcked, k.ReceiverAcked,
					k.LastRotationAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println("* = key material cached on this device")
			return nil
		},
	}
}
