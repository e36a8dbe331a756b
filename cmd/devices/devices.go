// Package devices lists the audio capture devices.
package devices

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/coughdetect/internal/myaudio"
)

// Command creates the devices command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Long:  "List the capture devices; use a name substring or ID as audio.source.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := myaudio.ListAudioSources()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No capture devices found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tNAME\tID\tDEFAULT")
			for _, d := range devices {
				def := ""
				if d.IsDefault {
					def = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Index, d.Name, d.ID, def)
			}
			return w.Flush()
		},
	}
}
