// Package config handles configuration for simkeeper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Options holds the timeouts and retry bounds used by the lifecycle
// components. Loaded once and treated as immutable afterwards.
type Options struct {
	// External simctl operation timeouts
	InstallTimeout   time.Duration `yaml:"installTimeout"`
	UninstallTimeout time.Duration `yaml:"uninstallTimeout"`
	LaunchTimeout    time.Duration `yaml:"launchTimeout"`
	EraseTimeout     time.Duration `yaml:"eraseTimeout"`

	// Polling
	StateWaitTimeout time.Duration `yaml:"stateWaitTimeout"` // device state + process waits
	BootTimeout      time.Duration `yaml:"bootTimeout"`
	PollInterval     time.Duration `yaml:"pollInterval"`

	// Launch retry policy: linear, bounded, no backoff growth. The
	// recovery step between attempts already provides enough delay.
	LaunchRetries int           `yaml:"launchRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RecoveryPause time.Duration `yaml:"recoveryPause"`

	// How long to wait for a process to exit after a graceful signal
	// before escalating to SIGKILL.
	GracefulWait time.Duration `yaml:"gracefulWait"`
}

// Default returns the default options. The launch retry count is tuned
// for CI, where the first boot after an erase fails more often.
func Default() *Options {
	return &Options{
		InstallTimeout:   120 * time.Second,
		UninstallTimeout: 60 * time.Second,
		LaunchTimeout:    60 * time.Second,
		EraseTimeout:     60 * time.Second,
		StateWaitTimeout: 30 * time.Second,
		BootTimeout:      120 * time.Second,
		PollInterval:     500 * time.Millisecond,
		LaunchRetries:    5,
		RetryDelay:       1 * time.Second,
		RecoveryPause:    2 * time.Second,
		GracefulWait:     500 * time.Millisecond,
	}
}

// UnmarshalYAML accepts durations in time.ParseDuration form ("30s",
// "500ms"). Unset fields keep whatever value the target already holds,
// so unmarshalling over Default() applies defaults.
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		InstallTimeout   string `yaml:"installTimeout"`
		UninstallTimeout string `yaml:"uninstallTimeout"`
		LaunchTimeout    string `yaml:"launchTimeout"`
		EraseTimeout     string `yaml:"eraseTimeout"`
		StateWaitTimeout string `yaml:"stateWaitTimeout"`
		BootTimeout      string `yaml:"bootTimeout"`
		PollInterval     string `yaml:"pollInterval"`
		LaunchRetries    *int   `yaml:"launchRetries"`
		RetryDelay       string `yaml:"retryDelay"`
		RecoveryPause    string `yaml:"recoveryPause"`
		GracefulWait     string `yaml:"gracefulWait"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	fields := []struct {
		src string
		dst *time.Duration
	}{
		{raw.InstallTimeout, &o.InstallTimeout},
		{raw.UninstallTimeout, &o.UninstallTimeout},
		{raw.LaunchTimeout, &o.LaunchTimeout},
		{raw.EraseTimeout, &o.EraseTimeout},
		{raw.StateWaitTimeout, &o.StateWaitTimeout},
		{raw.BootTimeout, &o.BootTimeout},
		{raw.PollInterval, &o.PollInterval},
		{raw.RetryDelay, &o.RetryDelay},
		{raw.RecoveryPause, &o.RecoveryPause},
		{raw.GracefulWait, &o.GracefulWait},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", f.src, err)
		}
		*f.dst = d
	}

	if raw.LaunchRetries != nil {
		o.LaunchRetries = *raw.LaunchRetries
	}

	return nil
}

// Load loads options from a file, applying defaults for unset fields.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	opts := Default()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, err
	}

	return opts, nil
}

// LoadFromDir looks for simkeeper.yaml or simkeeper.yml in the directory.
func LoadFromDir(dir string) (*Options, error) {
	for _, name := range []string{"simkeeper.yaml", "simkeeper.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	// No config file found, return defaults
	return Default(), nil
}
