// Package util provides utility functions for probecore's CLI layer.
package util

import (
	"os"
)

const stopFileName = "probecore.stp"

// IsHalted returns true if the core is in a halted state across
// separate CLI invocations, indicated by the presence of the
// probecore.stp file, so "halt" and "resume" can be issued as two
// separate command-line invocations without losing track of core state
// in between.
func IsHalted() bool {
	_, err := os.Stat(stopFileName)
	return err == nil
}

// SetHaltIndicator creates the halt indicator file.
func SetHaltIndicator() error {
	f, err := os.Create(stopFileName)
	if err != nil {
		return err
	}
	return f.Close()
}

// ClearHaltIndicator removes the halt indicator file.
func ClearHaltIndicator() error {
	if !IsHalted() {
		return nil
	}
	return os.Remove(stopFileName)
}
