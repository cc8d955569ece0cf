// Package config provides configuration management for probecore. It
// reads probe and target defaults from probecore.ini using a
// current-directory / environment / home-directory search path, via
// gopkg.in/ini.v1.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Config holds all configuration settings for probecore.
type Config struct {
	// Probe settings. Probe is either a serial device path (opened as a
	// SerialBridgeProbe) or a host:port TCP address (opened as a
	// TCPBridgeProbe).
	Probe    string
	BaudRate int
	Timeout  int

	// DefaultTarget names a target-description YAML file (pkg/target)
	// to load when none is given on the command line.
	DefaultTarget string

	// PowerDownOnDetach resolves spec §9's open question as a
	// configurable default; session.Session.PowerDownOnDetach is set
	// from this on attach and can still be overridden per session.
	PowerDownOnDetach bool
}

// Load reads configuration from probecore.ini in the following search
// order:
//  1. Current directory (./probecore.ini)
//  2. $PROBECORE_HOME directory ($PROBECORE_HOME/probecore.ini)
//  3. Home directory (~/probecore.ini)
func Load() (*Config, error) {
	var searchPaths []string

	searchPaths = append(searchPaths, filepath.Join(".", "probecore.ini"))

	if home := os.Getenv("PROBECORE_HOME"); home != "" {
		searchPaths = append(searchPaths, filepath.Join(home, "probecore.ini"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, "probecore.ini"))
	}

	var iniFile *ini.File
	var err error

	for _, path := range searchPaths {
		if _, statErr := os.Stat(path); statErr == nil {
			iniFile, err = ini.Load(path)
			if err == nil {
				break
			}
		}
	}

	// A missing probecore.ini is not fatal: every setting has a usable
	// default and --probe/--target flags can supply the rest at the
	// command line.
	if iniFile == nil {
		return defaultConfig(), nil
	}

	section := iniFile.Section("DEFAULT")
	return &Config{
		Probe:             section.Key("probe").MustString(""),
		BaudRate:          section.Key("baud_rate").MustInt(115200),
		Timeout:           section.Key("timeout").MustInt(10),
		DefaultTarget:     section.Key("target").MustString(""),
		PowerDownOnDetach: section.Key("power_down_on_detach").MustBool(true),
	}, nil
}

func defaultConfig() *Config {
	return &Config{
		BaudRate:          115200,
		Timeout:           10,
		PowerDownOnDetach: true,
	}
}

// ConfigPath returns the path to the config file that would be loaded,
// for diagnostic display.
func ConfigPath() (string, error) {
	paths := []string{filepath.Join(".", "probecore.ini")}

	if home := os.Getenv("PROBECORE_HOME"); home != "" {
		paths = append(paths, filepath.Join(home, "probecore.ini"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "probecore.ini"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no probecore.ini file found")
}
