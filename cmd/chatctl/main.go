package main

import (
	"os"

	"github.com/AhmedAmineBejaoui/chat-e2ee/cmd/chatctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
