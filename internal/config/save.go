package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk shape of the config. Durations are written as
// strings such as "30s" so the file stays hand-editable.
type fileConfig struct {
	Artifact struct {
		Extension string `toml:"extension"`
		Path      string `toml:"path,omitempty"`
	} `toml:"artifact"`
	Cache struct {
		Dir string `toml:"dir"`
	} `toml:"cache"`
	Shadow struct {
		Dir          string `toml:"dir"`
		Sentinel     string `toml:"sentinel"`
		Template     string `toml:"template,omitempty"`
		SyncPristine bool   `toml:"sync_pristine"`
	} `toml:"shadow"`
	Modeler struct {
		MergeMarker string `toml:"merge_marker"`
	} `toml:"modeler"`
	Git struct {
		Backend string `toml:"backend"`
		Binary  string `toml:"binary"`
		Timeout string `toml:"timeout"`
	} `toml:"git"`
	Lock struct {
		Wait string `toml:"wait"`
	} `toml:"lock"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`
	Watch struct {
		Debounce string `toml:"debounce"`
	} `toml:"watch"`
	Install struct {
		Command string `toml:"command"`
	} `toml:"install"`
}

func durationString(d time.Duration) string {
	return d.String()
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var f fileConfig
	f.Artifact.Extension = c.Artifact.Extension
	f.Artifact.Path = c.Artifact.Path
	f.Cache.Dir = c.Cache.Dir
	f.Shadow.Dir = c.Shadow.Dir
	f.Shadow.Sentinel = c.Shadow.Sentinel
	f.Shadow.Template = c.Shadow.Template
	f.Shadow.SyncPristine = c.Shadow.SyncPristine
	f.Modeler.MergeMarker = c.Modeler.MergeMarker
	f.Git.Backend = c.Git.Backend
	f.Git.Binary = c.Git.Binary
	f.Git.Timeout = durationString(c.Git.Timeout)
	f.Lock.Wait = durationString(c.Lock.Wait)
	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Watch.Debounce = durationString(c.Watch.Debounce)
	f.Install.Command = c.Install.Command

	var buf bytes.Buffer
	buf.WriteString("# mxgit configuration, written by mxgit --install\n\n")
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes c to path, replacing the file atomically.
func (c *Config) Save(path string) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
