package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state for the active profile",
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.New(os.Stderr, "[marksync] ", log.LstdFlags)
		rt, err := setup(logger)
		if err != nil {
			fatal(err)
		}
		defer rt.close()

		st, err := rt.engine.Status(context.Background())
		if err != nil {
			fatal(err)
		}

		lastSync := "never"
		if !st.LastSync.IsZero() {
			lastSync = st.LastSync.Local().Format("2006-01-02 15:04:05")
		}
		autoSync := "off"
		if st.AutoSync {
			autoSync = "on"
		}

		fmt.Println(ui.Header("Profile " + st.Profile))
		fmt.Print(ui.KV([][2]string{
			{"repository", fmt.Sprintf("%s/%s@%s", rt.prof.Owner, rt.prof.Repo, rt.prof.Branch)},
			{"bookmarks", rt.prof.BookmarksFile},
			{"last sync", lastSync},
			{"last commit", st.LastCommit},
			{"auto-sync", autoSync},
		}))

		if st.Conflicted {
			fmt.Println(ui.Err("unresolved conflict, auto-sync suspended"))
			if st.ConflictDetail != "" {
				fmt.Println(st.ConflictDetail)
			}
			fmt.Println(ui.Faint("Resolve with 'marksync push' (keep local) or 'marksync pull' (keep remote)."))
		} else {
			fmt.Println(ui.OK("no conflicts"))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
