package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deckgrab/deckgrab/internal/capture"
)

// CreateModesCmd creates the modes command.
func CreateModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List supported display modes",
		Long:  `Lists the display modes the capture hardware can deliver. Pass the mode index to record -m.`,
		Run: func(cmd *cobra.Command, _ []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tRESOLUTION\tFPS\tSCAN")
			for _, mode := range capture.Modes() {
				scan := "progressive"
				if mode.Interlaced {
					scan = "interlaced"
				}
				fmt.Fprintf(w, "%d\t%s\t%dx%d\t%.2f\t%s\n",
					mode.Index, mode.Name, mode.Width, mode.Height, mode.FPS(), scan)
			}
			w.Flush()
		},
	}
}
