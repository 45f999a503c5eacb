package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/profile"
	"github.com/marksync/marksync/internal/ui"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage sync profiles",
	Long: `A profile names a repository, credential, and local bookmark file.
Each profile keeps its own sync state; switching the active profile
swaps the whole state, nothing is merged across profiles.`,
}

var profileAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add or update a profile interactively",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		registry, err := profile.Load(flagConfigDir)
		if err != nil {
			fatal(err)
		}

		p := &profile.Profile{AutoSync: true, SyncOnStartup: true, SyncOnFocus: true}
		if len(args) == 1 {
			p.Name = args[0]
			if existing, err := registry.Get(p.Name); err == nil {
				p = existing
			}
		}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Profile name").
					Value(&p.Name).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Repository owner").
					Value(&p.Owner),
				huh.NewInput().
					Title("Repository name").
					Value(&p.Repo),
				huh.NewInput().
					Title("Branch").
					Placeholder("main").
					Value(&p.Branch),
				huh.NewInput().
					Title("Base path inside the repository").
					Description("Leave empty for the repository root").
					Value(&p.BasePath),
			),
			huh.NewGroup(
				huh.NewInput().
					Title("Access token").
					Description("Needs contents read/write; stored in config.yaml (mode 0600)").
					EchoMode(huh.EchoModePassword).
					Value(&p.Token),
				huh.NewInput().
					Title("Local bookmarks file").
					Description("The browser-exported JSON file to watch and sync").
					Value(&p.BookmarksFile),
				huh.NewConfirm().
					Title("Enable auto-sync").
					Value(&p.AutoSync),
			),
		)
		if err := form.Run(); err != nil {
			fatal(err)
		}

		if err := registry.Put(p); err != nil {
			fatal(err)
		}
		fmt.Println(ui.OK(fmt.Sprintf("profile %s saved", ui.Accent(p.Name))))
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured profiles",
	Run: func(cmd *cobra.Command, args []string) {
		registry, err := profile.Load(flagConfigDir)
		if err != nil {
			fatal(err)
		}

		names := registry.Names()
		if len(names) == 0 {
			fmt.Println(ui.Faint("no profiles configured; run 'marksync profile add'"))
			return
		}

		active := registry.ActiveName()
		for _, name := range names {
			p, err := registry.Get(name)
			if err != nil {
				fmt.Println(ui.Err(fmt.Sprintf("%s: %v", name, err)))
				continue
			}
			marker := " "
			if name == active {
				marker = ui.Accent("*")
			}
			fmt.Printf("%s %s  %s\n", marker, name, ui.Faint(fmt.Sprintf("%s/%s@%s", p.Owner, p.Repo, p.Branch)))
		}
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the active profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		registry, err := profile.Load(flagConfigDir)
		if err != nil {
			fatal(err)
		}
		if err := registry.SetActive(args[0]); err != nil {
			fatal(err)
		}
		fmt.Println(ui.OK(fmt.Sprintf("active profile is now %s", ui.Accent(args[0]))))
	},
}

func init() {
	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileUseCmd)
	rootCmd.AddCommand(profileCmd)
}
