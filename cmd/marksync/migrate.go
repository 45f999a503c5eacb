package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/migrate"
	"github.com/marksync/marksync/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert a legacy single-document repository to the per-file layout",
	Long: `Explode a legacy bookmarks.json document in the remote repository
into per-entry files and initialize the sync state from the result.

The migration is a no-op when the profile already has sync state or no
legacy document exists. The legacy document is left in place as its own
backup. The daemon runs this automatically on startup; the command
exists for previews and manual runs.`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		logger := log.New(os.Stderr, "[migrate] ", log.LstdFlags)
		rt, err := setup(logger)
		if err != nil {
			fatal(err)
		}
		defer rt.close()

		res, err := migrate.Run(context.Background(), rt.store, rt.states, migrate.Options{
			Profile: rt.prof.Name,
			DryRun:  dryRun,
			Logger:  logger,
		})
		if err != nil {
			fatal(err)
		}

		switch {
		case res.Skipped:
			fmt.Println(ui.Faint("nothing to migrate: " + res.Reason))
		case dryRun:
			fmt.Println(ui.Warn(fmt.Sprintf("dry run: would write %d files for %d entries", res.FilesWritten, res.Entries)))
		default:
			fmt.Println(ui.OK(fmt.Sprintf("migrated %d entries into %d files", res.Entries, res.FilesWritten)))
		}
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Preview the migration without writing")
	rootCmd.AddCommand(migrateCmd)
}
