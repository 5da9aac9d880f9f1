package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"frostchat/internal/app"
)

// listenCmd runs the session runtime in the foreground: incoming key
// deliveries and acks, the fallback transfer sweep, and the rotation
// scheduler, until interrupted.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the session until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session, err := app.StartSession(ctx, wire, userID)
			if err != nil {
				return err
			}
			defer session.Close()

			fmt.Printf("Listening as %s. Ctrl-C to stop.\n", userID)
			<-ctx.Done()
			fmt.Println("\nStopping.")
			return nil
		},
	}
}
