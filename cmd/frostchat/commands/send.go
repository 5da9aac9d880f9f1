package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"frostchat/internal/domain"
)

// send <chat> <message>: seal a message under the chat's active key and
// print the envelope. Transporting envelopes is the calling subsystem's
// job; the CLI emits them for piping.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <message>",
		Short: "Seal a message under the chat's active key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := wire.Channel.EncryptMessage(cmd.Context(), args[0], userID, args[1])
			if errors.Is(err, domain.ErrNoKey) {
				return fmt.Errorf("no usable key for %s yet; waiting for the secure channel", args[0])
			}
			if err != nil {
				return err
			}
			out, err := json.Marshal(env)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
