package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"frostchat/internal/app"
)

var (
	home       string
	passphrase string
	userID     string
	storeURL   string
	relayURLs  []string
	verbose    bool

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:   "frostchat",
		Short: "End-to-end encrypted chat key management CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env fills in anything the flags left unset.
			_ = godotenv.Load()

			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".frostchat")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}

			cfg := app.Config{
				Home:       home,
				UserID:     userID,
				Passphrase: passphrase,
				StoreURL:   storeURL,
				RelayURLs:  relayURLs,
			}.FromEnv()
			if cfg.UserID == "" {
				return fmt.Errorf("--user required (or FROSTCHAT_USER)")
			}
			userID = cfg.UserID

			logOut := io.Discard
			if verbose {
				logOut = cmd.ErrOrStderr()
			}
			log := slog.New(slog.NewTextHandler(logOut, nil))

			w, err := app.NewWire(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			wire = w
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if wire != nil {
				_ = wire.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.frostchat)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local key cache")
	root.PersistentFlags().StringVar(&userID, "user", "", "your user ID")
	root.PersistentFlags().StringVar(&storeURL, "store", "", "record store base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringSliceVar(&relayURLs, "relay", nil, "relay websocket URL, repeatable")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		initCmd(), fingerprintCmd(), startChatCmd(), sendCmd(), openCmd(),
		listenCmd(), statusCmd(), rotateCmd(), logoutCmd(),
	)
	return root.Execute()
}
