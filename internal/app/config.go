package app

import (
	"net/http"
	"os"
	"strings"
)

// Config holds runtime wiring options for building the client.
type Config struct {
	Home       string       // config directory, e.g. $HOME/.frostchat
	UserID     string       // the logged-in user
	Passphrase string       // unlocks the local key cache
	StoreURL   string       // record-store base URL, e.g. http://127.0.0.1:8080
	RelayURLs  []string     // websocket relay endpoints, e.g. ws://127.0.0.1:8080/v1/realtime
	HTTP       *http.Client // optional; defaults to http.DefaultClient
}

// FromEnv fills unset fields from FROSTCHAT_* environment variables.
func (c Config) FromEnv() Config {
	if c.Home == "" {
		c.Home = os.Getenv("FROSTCHAT_HOME")
	}
	if c.UserID == "" {
		c.UserID = os.Getenv("FROSTCHAT_USER")
	}
	if c.StoreURL == "" {
		c.StoreURL = os.Getenv("FROSTCHAT_STORE_URL")
	}
	if len(c.RelayURLs) == 0 {
		if urls := os.Getenv("FROSTCHAT_RELAY_URLS"); urls != "" {
			for _, u := range strings.Split(urls, ",") {
				if u = strings.TrimSpace(u); u != "" {
					c.RelayURLs = append(c.RelayURLs, u)
				}
			}
		}
	}
	return c
}
