package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/merge"
	"github.com/marksync/marksync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile local and remote bookmarks with a three-way merge",
	Long: `Run one full sync: fetch the remote tree, three-way merge it with the
local tree against the last agreed state, and write both sides to the
merged result.

If any entry changed on both sides with different outcomes, nothing is
written anywhere and the conflicting entries are listed. Resolve by
picking a side: 'marksync push' keeps local, 'marksync pull' keeps
remote.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOperation("sync", func(ctx context.Context, eng *engine.Engine) error {
			return eng.Sync(ctx)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Write local changes to the remote repository",
	Long: `Push local-only changes to the remote repository without merging
remote edits back.

Push fails before writing anything if the remote moved since the last
sync; run 'marksync sync' to reconcile instead. After a conflict, push
is the "keep local" resolution: it overwrites the remote with the local
tree and clears the conflict.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOperation("push", func(ctx context.Context, eng *engine.Engine) error {
			return eng.Push(ctx)
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace local bookmarks with the remote tree",
	Long: `Pull the remote tree and replace the local bookmark file with it.
Local-only changes made since the last sync are discarded.

After a conflict, pull is the "keep remote" resolution.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOperation("pull", func(ctx context.Context, eng *engine.Engine) error {
			return eng.Pull(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
}

// runOperation drives one engine operation from the CLI, rendering
// conflicts and busy rejections distinctly from plain failures.
func runOperation(name string, op func(context.Context, *engine.Engine) error) {
	logger := log.New(os.Stderr, "[marksync] ", log.LstdFlags)
	rt, err := setup(logger)
	if err != nil {
		fatal(err)
	}
	defer rt.close()

	err = op(context.Background(), rt.engine)
	if err == nil {
		fmt.Println(ui.OK(fmt.Sprintf("%s complete for profile %s", name, ui.Accent(rt.prof.Name))))
		return
	}

	var conflict *merge.ConflictError
	switch {
	case errors.As(err, &conflict):
		fmt.Fprintln(os.Stderr, ui.Err(conflict.Error()))
		fmt.Fprintln(os.Stderr, conflict.Details())
		fmt.Fprintln(os.Stderr, ui.Faint("Resolve with 'marksync push' (keep local) or 'marksync pull' (keep remote)."))
		os.Exit(1)
	case errors.Is(err, engine.ErrBusy):
		fmt.Fprintln(os.Stderr, ui.Warn("another operation is in flight, try again shortly"))
		os.Exit(1)
	default:
		fatal(fmt.Errorf("%s failed: %w", name, err))
	}
}
