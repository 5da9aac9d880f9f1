package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"frostchat/internal/domain"
)

// open <chat> <envelope>: the inverse of send.
func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <chat-id> <envelope-json>",
		Short: "Decrypt a sealed envelope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var env domain.Envelope
			if err := json.Unmarshal([]byte(args[1]), &env); err != nil {
				return fmt.Errorf("parsing envelope: %w", err)
			}
			msg, err := wire.Channel.DecryptMessage(cmd.Context(), args[0], env)
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n", msg.SenderID, msg.Content)
			return nil
		},
	}
}
