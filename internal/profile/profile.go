// Package profile multiplexes the engine over named configurations.
//
// Each profile names a repository, credential, and local bookmarks
// file, plus its trigger tuning. Profiles live in
// $HOME/.marksync/config.yaml (viper-managed, with MARKSYNC_* env
// overrides); each profile gets its own sync state row in the shared
// state database, and switching the active profile swaps the entire
// state, never merges.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// DefaultDirName is the configuration directory under $HOME.
const DefaultDirName = ".marksync"

// Profile is one named sync configuration.
type Profile struct {
	Name string `mapstructure:"-"`

	// Repository coordinates and credential.
	Owner    string `mapstructure:"owner"`
	Repo     string `mapstructure:"repo"`
	Branch   string `mapstructure:"branch"`
	BasePath string `mapstructure:"base_path"`
	Token    string `mapstructure:"token"`

	// BookmarksFile is the local browser-export file acting as the
	// local replica.
	BookmarksFile string `mapstructure:"bookmarks_file"`

	// Trigger tuning.
	AutoSync      bool          `mapstructure:"auto_sync"`
	DebounceDelay time.Duration `mapstructure:"debounce_delay"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FocusCooldown time.Duration `mapstructure:"focus_cooldown"`
	SyncOnStartup bool          `mapstructure:"sync_on_startup"`
	SyncOnFocus   bool          `mapstructure:"sync_on_focus"`
}

// Validate checks the fields every operation needs.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Owner == "" || p.Repo == "" {
		return fmt.Errorf("profile %q: owner and repo are required", p.Name)
	}
	if p.Token == "" {
		return fmt.Errorf("profile %q: token is required (or set MARKSYNC_TOKEN)", p.Name)
	}
	if p.BookmarksFile == "" {
		return fmt.Errorf("profile %q: bookmarks_file is required", p.Name)
	}
	return nil
}

// applyDefaults fills unset tuning fields with the stock values.
func (p *Profile) applyDefaults() {
	if p.Branch == "" {
		p.Branch = "main"
	}
	if p.DebounceDelay == 0 {
		p.DebounceDelay = 5 * time.Second
	}
	if p.PollInterval == 0 {
		p.PollInterval = 15 * time.Minute
	}
	if p.FocusCooldown == 0 {
		p.FocusCooldown = 60 * time.Second
	}
}

// Registry loads and persists profiles.
type Registry struct {
	v   *viper.Viper
	dir string
}

// Load opens the registry in dir ("" = $HOME/.marksync). A missing
// config file yields an empty registry, not an error.
func Load(dir string) (*Registry, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultDirName)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("MARKSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return &Registry{v: v, dir: dir}, nil
}

// Dir returns the configuration directory.
func (r *Registry) Dir() string { return r.dir }

// StatePath returns the shared sync state database path.
func (r *Registry) StatePath() string {
	return filepath.Join(r.dir, "state.db")
}

// ActiveName returns the active profile's name, "" when unset.
func (r *Registry) ActiveName() string {
	return r.v.GetString("active")
}

// Active resolves the active profile.
func (r *Registry) Active() (*Profile, error) {
	name := r.ActiveName()
	if name == "" {
		names := r.Names()
		if len(names) == 1 {
			name = names[0]
		} else {
			return nil, fmt.Errorf("no active profile configured; run 'marksync profile use <name>'")
		}
	}
	return r.Get(name)
}

// Get resolves one profile by name, applying defaults and the
// MARKSYNC_TOKEN override.
func (r *Registry) Get(name string) (*Profile, error) {
	key := "profiles." + name
	if !r.v.IsSet(key) {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	var p Profile
	if err := r.v.UnmarshalKey(key, &p); err != nil {
		return nil, fmt.Errorf("decoding profile %q: %w", name, err)
	}
	p.Name = name
	if env := r.v.GetString("token"); env != "" && p.Token == "" {
		p.Token = env
	}
	p.applyDefaults()
	return &p, nil
}

// Names lists configured profiles, sorted.
func (r *Registry) Names() []string {
	profiles := r.v.GetStringMap("profiles")
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Put saves or replaces a profile and persists the config file.
func (r *Registry) Put(p *Profile) error {
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	key := "profiles." + p.Name
	r.v.Set(key+".owner", p.Owner)
	r.v.Set(key+".repo", p.Repo)
	r.v.Set(key+".branch", p.Branch)
	r.v.Set(key+".base_path", p.BasePath)
	r.v.Set(key+".token", p.Token)
	r.v.Set(key+".bookmarks_file", p.BookmarksFile)
	r.v.Set(key+".auto_sync", p.AutoSync)
	r.v.Set(key+".debounce_delay", p.DebounceDelay.String())
	r.v.Set(key+".poll_interval", p.PollInterval.String())
	r.v.Set(key+".focus_cooldown", p.FocusCooldown.String())
	r.v.Set(key+".sync_on_startup", p.SyncOnStartup)
	r.v.Set(key+".sync_on_focus", p.SyncOnFocus)
	if r.ActiveName() == "" {
		r.v.Set("active", p.Name)
	}
	return r.write()
}

// SetActive switches the active profile.
func (r *Registry) SetActive(name string) error {
	if !r.v.IsSet("profiles." + name) {
		return fmt.Errorf("profile %q not found", name)
	}
	r.v.Set("active", name)
	return r.write()
}

func (r *Registry) write() error {
	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(r.dir, "config.yaml")
	if err := r.v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	// The token lives in this file; keep it private.
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("restricting config permissions: %w", err)
	}
	return nil
}
