// Command marksync keeps a local browser bookmark file and a remote
// repository of per-bookmark files reconciled.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/browser"
	"github.com/marksync/marksync/internal/engine"
	"github.com/marksync/marksync/internal/profile"
	"github.com/marksync/marksync/internal/remote/github"
	"github.com/marksync/marksync/internal/state"
	"github.com/marksync/marksync/internal/ui"
)

var (
	flagProfile   string
	flagConfigDir string
	flagNoColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "marksync",
	Short: "Sync browser bookmarks with a Git repository",
	Long: `marksync reconciles a local bookmark file with a remote repository
where every bookmark and folder is its own file.

Local edits push up, remote edits pull down, and a full sync performs a
three-way merge against the last agreed state. Concurrent edits to the
same entry stop the sync and wait for you to pick a side with an
explicit push or pull.

Run 'marksync profile add' first to configure a repository, then
'marksync daemon' for continuous syncing or 'marksync sync' for a
one-shot run.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagNoColor {
			ui.SetPlain(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "Profile to operate on (default: the active profile)")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Configuration directory (default: $HOME/.marksync)")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime bundles everything a command needs for one profile.
type runtime struct {
	registry *profile.Registry
	prof     *profile.Profile
	store    *github.Client
	local    *browser.FileStore
	states   *state.DB
	engine   *engine.Engine
}

// setup resolves the profile and builds the engine and its
// dependencies. The caller must close the returned runtime.
func setup(logger *log.Logger) (*runtime, error) {
	registry, err := profile.Load(flagConfigDir)
	if err != nil {
		return nil, err
	}

	var prof *profile.Profile
	if flagProfile != "" {
		prof, err = registry.Get(flagProfile)
	} else {
		prof, err = registry.Active()
	}
	if err != nil {
		return nil, err
	}
	if err := prof.Validate(); err != nil {
		return nil, err
	}

	store, err := github.New(github.Config{
		Owner:    prof.Owner,
		Repo:     prof.Repo,
		Branch:   prof.Branch,
		BasePath: prof.BasePath,
		Token:    prof.Token,
	})
	if err != nil {
		return nil, err
	}

	local, err := browser.NewFileStore(prof.BookmarksFile, logger)
	if err != nil {
		return nil, err
	}

	states, err := state.Open(registry.StatePath())
	if err != nil {
		return nil, err
	}
	if err := states.InitSchema(); err != nil {
		states.Close()
		return nil, err
	}

	cfg := engine.Config{
		Profile:       prof.Name,
		AutoSync:      prof.AutoSync,
		DebounceDelay: prof.DebounceDelay,
		PollInterval:  prof.PollInterval,
		FocusCooldown: prof.FocusCooldown,
		SyncOnStartup: prof.SyncOnStartup,
		SyncOnFocus:   prof.SyncOnFocus,
		Logger:        logger,
	}

	return &runtime{
		registry: registry,
		prof:     prof,
		store:    store,
		local:    local,
		states:   states,
		engine:   engine.New(cfg, store, local, states),
	}, nil
}

func (rt *runtime) close() {
	if err := rt.states.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing state database: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, ui.Err(err.Error()))
	os.Exit(1)
}
