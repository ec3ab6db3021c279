package main

import (
	"os"

	"github.com/supernifty/cloudman/cmd/cloudman/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
