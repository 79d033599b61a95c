package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deckgrab/deckgrab/cmd"
	"github.com/deckgrab/deckgrab/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "deckgrab",
		Short:         "Capture live audio and video from DeckLink cards to a file",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(cmd.CreateRecordCmd())
	root.AddCommand(cmd.CreateModesCmd())
	root.AddCommand(cmd.CreateVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
