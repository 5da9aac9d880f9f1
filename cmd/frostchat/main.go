package main

import (
	"os"

	"frostchat/cmd/frostchat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
