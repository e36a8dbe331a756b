// Package classify runs recorded audio through the detection pipeline.
package classify

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/coughdetect/internal/analysis"
	"github.com/tphakala/coughdetect/internal/classifier"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/myaudio"
)

// Command creates the classify command.
func Command(settings *conf.Settings) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "classify [input.wav|input.flac]",
		Short: "Analyze a 16 kHz mono WAV or FLAC file",
		Long:  "Classify a recording window by window and print the events the realtime pipeline would record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := myaudio.ReadAudioFile(args[0])
			if err != nil {
				return err
			}

			cls := classifier.New(settings.Classifier)
			defer cls.Close()

			// offsets are printed relative to the start of the file
			res, err := analysis.AnalyzeSamples(cmd.Context(), cls, samples, settings.Detection, time.Time{})
			if err != nil {
				return err
			}
			return printAnalysis(cmd.OutOrStdout(), args[0], cls.Mode(), res, settings.Detection, all)
		},
	}

	cmd.Flags().BoolVarP(&all, "windows", "w", false, "Print every window, not only positive ones")
	return cmd
}

func printAnalysis(out io.Writer, file string, mode classifier.Mode, res *analysis.FileAnalysis, detection conf.DetectionSettings, all bool) error {
	fmt.Fprintf(out, "%s: %d windows, classifier %s, threshold %.2f\n\n", file, len(res.Windows), mode, detection.Threshold)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OFFSET\tKIND\tCONFIDENCE\tRMS")
	for _, win := range res.Windows {
		if !all && !win.IsPositive(detection.Threshold) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%.4f\n", win.Offset, win.Kind, win.Confidence, win.RMS)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d events\n", len(res.Events))
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tDURATION\tKIND\tCONFIDENCE\tAMPLITUDE\tCLOSED BY\tPERSISTED")
	for _, ev := range res.Events {
		persisted := "yes"
		if ev.Duration() < detection.MinEventDuration {
			persisted = "no, too short"
		}
		start := ev.Start.Sub(time.Time{})
		fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%.4f\t%s\t%s\n",
			start, ev.Duration(), ev.Kind, ev.Confidence, ev.Amplitude, ev.Reason, persisted)
	}
	return w.Flush()
}
