// Package config loads fleetd's daemon configuration file
// (fleetd.conf), the multipassd.conf-equivalent named in SPEC_FULL.md
// §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultAddress is used when the config file doesn't set one.
const DefaultAddress = "unix:///var/run/fleetd.sock"

// Daemon is the top-level fleetd.conf shape.
type Daemon struct {
	// Address is the gRPC listen address, unix://path or tcp://host:port.
	Address string `yaml:"address,omitempty"`

	// DataDir holds persistent state: the instance registry, libvirt
	// image/volume pools, and the client-cert trust store.
	DataDir string `yaml:"dataDir"`

	// CacheDir holds the downloaded-manifest/image cache.
	CacheDir string `yaml:"cacheDir"`

	// Verbosity is a logrus level (0=warn .. 4=trace), checked by
	// Validate. fleetd does not read it: its log level comes from the
	// --verbosity flag alone.
	Verbosity int `yaml:"verbosity,omitempty"`

	// PassphraseHash is loaded from the file, but fleetd does not seed
	// rpcauth.Gate with it at startup; when it is set, fleetd only logs
	// a warning.
	PassphraseHash string `yaml:"passphraseHash,omitempty"`

	// BlueprintsURL is the image index URL; FLEETD_BLUEPRINTS_URL, when
	// set, overrides it.
	BlueprintsURL string `yaml:"blueprintsUrl,omitempty"`
}

// Validate checks the configuration for errors.
func (d *Daemon) Validate() error {
	if d.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if d.CacheDir == "" {
		return fmt.Errorf("cacheDir is required")
	}
	if d.Verbosity < 0 || d.Verbosity > 4 {
		return fmt.Errorf("verbosity must be between 0 and 4, got %d", d.Verbosity)
	}
	return nil
}

// Normalize fills in defaults for fields the file omitted.
func (d *Daemon) Normalize() {
	if d.Address == "" {
		d.Address = DefaultAddress
	}
}

// LoadFromFile loads a daemon configuration from a YAML file. A missing
// file is not an error: defaults are returned instead, matching
// multipassd's "no config yet" startup behavior.
func LoadFromFile(path string) (*Daemon, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		d := &Daemon{
			DataDir:  filepath.Join(os.TempDir(), "fleetd", "data"),
			CacheDir: filepath.Join(os.TempDir(), "fleetd", "cache"),
		}
		d.Normalize()
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var d Daemon
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	d.Normalize()

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &d, nil
}

// SaveToFile writes d to path as YAML, creating the parent directory
// if needed.
func SaveToFile(d *Daemon, path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}
