package main

import (
	"os"

	"github.com/ivazin/kapitalbank-uz-export/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
