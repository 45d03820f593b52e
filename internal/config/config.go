// Package config loads mxgit settings.
//
// Precedence, lowest first: built-in defaults, the config file
// (.git/mxgit.toml, then .mxgit.toml in the repository root, or an explicit
// --config path), MXGIT_* environment variables, command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix of environment overrides, e.g. MXGIT_GIT_BACKEND
	EnvPrefix = "MXGIT"

	// FileName is the config file written by --install under .git/
	FileName = "mxgit.toml"

	// Sentinel is the repository root the shadow store must carry.
	Sentinel = "https://teamserver.sprintr.com/this_is_not_a_svn_repo_use_git/trunk"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type ArtifactConfig struct {
	Extension string `mapstructure:"extension"`
	Path      string `mapstructure:"path"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

type ShadowConfig struct {
	Dir          string `mapstructure:"dir"`
	Sentinel     string `mapstructure:"sentinel"`
	Template     string `mapstructure:"template"`
	SyncPristine bool   `mapstructure:"sync_pristine"`
}

type ModelerConfig struct {
	MergeMarker string `mapstructure:"merge_marker"`
}

type GitConfig struct {
	Backend string        `mapstructure:"backend"`
	Binary  string        `mapstructure:"binary"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LockConfig struct {
	Wait time.Duration `mapstructure:"wait"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type InstallConfig struct {
	Command string `mapstructure:"command"`
}

// Config is the effective mxgit configuration.
type Config struct {
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Shadow   ShadowConfig   `mapstructure:"shadow"`
	Modeler  ModelerConfig  `mapstructure:"modeler"`
	Git      GitConfig      `mapstructure:"git"`
	Lock     LockConfig     `mapstructure:"lock"`
	Log      LogConfig      `mapstructure:"log"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Install  InstallConfig  `mapstructure:"install"`

	// Root is the repository root the config was loaded for
	Root string `mapstructure:"-"`

	// Source is the config file that was read, empty if none
	Source string `mapstructure:"-"`
}

var defaults = map[string]any{
	"artifact.extension":   ".mpr",
	"artifact.path":        "",
	"cache.dir":            ".mendix-cache",
	"shadow.dir":           ".svn",
	"shadow.sentinel":      Sentinel,
	"shadow.template":      "",
	"shadow.sync_pristine": false,
	"modeler.merge_marker": "modeler-merge-marker",
	"git.backend":          "cli",
	"git.binary":           "git",
	"git.timeout":          30 * time.Second,
	"lock.wait":            10 * time.Second,
	"log.file":             "mxgit.log",
	"log.max_size_mb":      5,
	"log.max_backups":      3,
	"watch.debounce":       500 * time.Millisecond,
	"install.command":      "mxgit",
}

// Default returns the built-in configuration for root, ignoring config
// files and the environment.
func Default(root string) *Config {
	cfg, err := decode(newViper(), root, "")
	if err != nil {
		// defaults always decode and validate
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigType("toml")
	return v
}

// candidates returns the config files looked up when none is given.
func candidates(root string) []string {
	return []string{
		filepath.Join(root, ".git", FileName),
		filepath.Join(root, "."+FileName),
	}
}

// Load builds the configuration for the repository at root. explicit, when
// set, must name a readable file. flags may be nil; only flags annotated
// with BindFlag override config keys.
func Load(root, explicit string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	source := ""
	if explicit != "" {
		source = explicit
	} else {
		for _, path := range candidates(root) {
			if _, err := os.Stat(path); err == nil {
				source = path
				break
			}
		}
	}
	if source != "" {
		v.SetConfigFile(source)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, source, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := f.Annotations[FlagKeyAnnotation]
			if !ok || len(key) == 0 || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key[0], f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	return decode(v, root, source)
}

func decode(v *viper.Viper, root, source string) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.Root = root
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FlagKeyAnnotation marks a flag as the command line source of a config key.
const FlagKeyAnnotation = "mxgit_config_key"

// BindFlag annotates flag name in fs with config key.
func BindFlag(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, FlagKeyAnnotation, []string{key})
}

// Validate checks the settings mxgit cannot work without.
func (c *Config) Validate() error {
	var problems []string

	if !strings.HasPrefix(c.Artifact.Extension, ".") || len(c.Artifact.Extension) < 2 {
		problems = append(problems, fmt.Sprintf("artifact.extension %q must start with a dot", c.Artifact.Extension))
	}
	if c.Artifact.Path != "" && (filepath.IsAbs(c.Artifact.Path) || strings.ContainsAny(c.Artifact.Path, `/\`)) {
		problems = append(problems, fmt.Sprintf("artifact.path %q must be a file name in the repository root", c.Artifact.Path))
	}
	for _, field := range []struct{ key, value string }{
		{"cache.dir", c.Cache.Dir},
		{"shadow.dir", c.Shadow.Dir},
		{"shadow.sentinel", c.Shadow.Sentinel},
		{"modeler.merge_marker", c.Modeler.MergeMarker},
		{"git.binary", c.Git.Binary},
		{"install.command", c.Install.Command},
	} {
		if strings.TrimSpace(field.value) == "" {
			problems = append(problems, field.key+" must not be empty")
		}
	}
	switch c.Git.Backend {
	case "cli", "gogit":
	default:
		problems = append(problems, fmt.Sprintf("git.backend %q must be cli or gogit", c.Git.Backend))
	}
	if c.Git.Timeout <= 0 {
		problems = append(problems, "git.timeout must be positive")
	}
	if c.Lock.Wait < 0 {
		problems = append(problems, "lock.wait must not be negative")
	}
	if c.Watch.Debounce <= 0 {
		problems = append(problems, "watch.debounce must be positive")
	}
	if c.Log.MaxSizeMB <= 0 {
		problems = append(problems, "log.max_size_mb must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// path resolves p against the repository root unless it is absolute.
func (c *Config) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// CacheDir returns the absolute cache directory.
func (c *Config) CacheDir() string { return c.path(c.Cache.Dir) }

// ShadowDir returns the absolute shadow directory.
func (c *Config) ShadowDir() string { return c.path(c.Shadow.Dir) }

// ShadowTemplate returns the absolute template directory, or "" for the
// embedded one.
func (c *Config) ShadowTemplate() string {
	if c.Shadow.Template == "" {
		return ""
	}
	return c.path(c.Shadow.Template)
}

// LogPath returns the log file path; relative names live in the cache dir.
func (c *Config) LogPath() string {
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.CacheDir(), c.Log.File)
}

// MergeMarkerPath returns the absolute path of the modeler's merge marker.
func (c *Config) MergeMarkerPath() string { return c.path(c.Modeler.MergeMarker) }
