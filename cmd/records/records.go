// Package records inspects and maintains the stored detection records.
package records

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/diskmanager"
)

// Command creates the records command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect stored detection records",
	}
	cmd.AddCommand(
		listCommand(settings),
		statsCommand(settings),
		deleteCommand(settings),
		clearCommand(settings),
		migrateCommand(settings),
	)
	return cmd
}

// withStore opens the configured record store for the duration of fn
func withStore(settings *conf.Settings, fn func(datastore.Interface) error) error {
	db, err := datastore.New(settings)
	if err != nil {
		return err
	}
	if err := db.Open(); err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-mostly command

	return fn(db)
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var (
		limit, offset int
		minConfidence float64
		since         time.Duration
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(settings, func(db datastore.Interface) error {
				ctx := cmd.Context()
				var (
					records []datastore.EventRecord
					err     error
				)
				switch {
				case since > 0:
					now := time.Now()
					records, err = db.ListInRange(ctx, now.Add(-since), now)
				case minConfidence > 0:
					records, err = db.ListWithMinConfidence(ctx, minConfidence)
				default:
					records, err = db.List(ctx, limit, offset)
				}
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), records)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of records to skip")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Only list records at or above this confidence")
	cmd.Flags().DurationVar(&since, "since", 0, "Only list records from this long ago until now, e.g. 8h")
	return cmd
}

func printRecords(out io.Writer, records []datastore.EventRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No records")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tTYPE\tDURATION\tCONFIDENCE\tAMPLITUDE\tCLIP")
	for _, r := range records {
		clip := "-"
		if r.HasAudio() {
			clip = filepath.Base(r.AudioFilePath)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.3f\t%.4f\t%s\n",
			r.ID, r.Timestamp.Local().Format("2006-01-02 15:04:05.000"), r.EventType,
			r.Duration(), r.Confidence, r.Amplitude, clip)
	}
	return w.Flush()
}

func statsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record and clip storage statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(settings, func(db datastore.Interface) error {
				stats, err := db.GetStats(cmd.Context())
				if err != nil {
					return err
				}
				top, err := db.TopByConfidence(cmd.Context(), 3)
				if err != nil {
					return err
				}
				files, err := diskmanager.GetAudioFiles(settings.ClipDir(), []string{".wav"})
				if err != nil {
					return err
				}
				var size int64
				for _, f := range files {
					size += f.Size
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Records:            %d\n", stats.Count)
				fmt.Fprintf(out, "Average confidence: %s\n", formatOptional(stats.AverageConfidence))
				fmt.Fprintf(out, "Max confidence:     %s\n", formatOptional(stats.MaxConfidence))
				fmt.Fprintf(out, "Clips:              %d (%.1f MiB of %.1f MiB quota)\n",
					len(files), float64(size)/(1<<20), float64(settings.QuotaBytes())/(1<<20))
				if len(top) > 0 {
					fmt.Fprintln(out, "\nMost confident:")
					return printRecords(out, top)
				}
				return nil
			})
		},
	}
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one record and its clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}
			return withStore(settings, func(db datastore.Interface) error {
				return deleteRecord(cmd.Context(), cmd.OutOrStdout(), db, uint(id))
			})
		},
	}
}

func deleteRecord(ctx context.Context, out io.Writer, db datastore.Interface, id uint) error {
	record, err := db.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := db.Delete(ctx, id); err != nil {
		return err
	}
	if record.HasAudio() {
		if err := os.Remove(record.AudioFilePath); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(out, "Record %d deleted, clip could not be removed: %v\n", id, err)
			return nil
		}
	}
	fmt.Fprintf(out, "Record %d deleted\n", id)
	return nil
}

func clearCommand(settings *conf.Settings) *cobra.Command {
	var yes, keepClips bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all records and clips",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all records without --yes")
			}
			return withStore(settings, func(db datastore.Interface) error {
				deleted, err := db.DeleteAll(cmd.Context())
				if err != nil {
					return err
				}
				removed := 0
				if !keepClips {
					files, err := diskmanager.GetAudioFiles(settings.ClipDir(), []string{".wav"})
					if err != nil {
						return err
					}
					for _, f := range files {
						if err := os.Remove(f.Path); err == nil {
							removed++
						}
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records and %d clips\n", deleted, removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	cmd.Flags().BoolVar(&keepClips, "keep-clips", false, "Keep clip files on disk")
	return cmd
}

func migrateCommand(settings *conf.Settings) *cobra.Command {
	var (
		batchSize  int
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy records from the SQLite database to MySQL",
		Long: `Copy all records from output.sqlite.path to the MySQL database configured
under output.mysql. Record ids are kept and records already present in MySQL
are skipped, so the command can be run again after an interruption.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source := &datastore.SQLiteStore{Settings: settings}
			if err := source.Open(); err != nil {
				return err
			}
			defer source.Close() //nolint:errcheck // read only

			target := &datastore.MySQLStore{Settings: settings}
			if err := target.Open(); err != nil {
				return err
			}
			defer target.Close() //nolint:errcheck // closed after the copy

			out := cmd.OutOrStdout()
			stats, err := datastore.CopyRecords(cmd.Context(), source.DB, target.DB, batchSize, func(done, total int64) {
				fmt.Fprintf(out, "\r%d/%d records (%.0f%%)", done, total, float64(done)/float64(total)*100)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nMigrated %d, skipped %d, failed %d in %s\n",
				stats.Migrated, stats.Skipped, stats.Errors, stats.Duration.Round(time.Millisecond))

			if stats.Errors > 0 {
				return fmt.Errorf("%d records could not be copied", stats.Errors)
			}
			if skipVerify {
				return nil
			}
			if err := datastore.VerifyCopy(cmd.Context(), source.DB, target.DB, 5); err != nil {
				return err
			}
			fmt.Fprintln(out, "Verification passed")
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", datastore.DefaultMigrationBatchSize, "Records per insert")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Skip comparing counts and sample records afterwards")
	return cmd
}
