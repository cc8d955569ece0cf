package dwarfinfo

import (
	"errors"
	"path/filepath"
)

// ErrNotFound is returned when no compilation unit's address ranges
// cover the requested address (spec.md §4.6.2 step 1).
var ErrNotFound = errors.New("dwarfinfo: address not covered by any compilation unit")

// ErrNoBreakpointLocation is returned when breakpoint-by-source-location
// resolution finds no matching HaltLocation — the code at that line was
// likely optimised away (spec.md §4.6.3 step 3).
var ErrNoBreakpointLocation = errors.New("dwarfinfo: no breakpoint location for source position")

// ErrNoHaltAfterAddress is returned when an address falls within a
// known sequence but no HaltLocation follows it before the sequence
// ends; the caller should fall back to instruction-level stepping
// (spec.md §4.6.2 step 3).
var ErrNoHaltAfterAddress = errors.New("dwarfinfo: no halt location follows address before sequence end; use instruction stepping")

// ResolveBreakpointAddress resolves a breakpoint for address (spec.md §4.6.2).
func (info *Info) ResolveBreakpointAddress(addr uint64) (InstructionLocation, error) {
	cu, ok := info.unitForAddress(addr)
	if !ok {
		return InstructionLocation{}, ErrNotFound
	}

	sequences, err := info.sequencesFor(cu)
	if err != nil {
		return InstructionLocation{}, err
	}

	for _, seq := range sequences {
		if !seq.contains(addr) {
			continue
		}
		loc, ok := seq.FirstHaltAtOrAfter(addr)
		if !ok {
			return InstructionLocation{}, ErrNoHaltAfterAddress
		}
		return loc, nil
	}
	return InstructionLocation{}, ErrNotFound
}

// ResolveBreakpointSource resolves a breakpoint for (path, line, column)
// (spec.md §4.6.3). column == 0 means "no column constraint".
func (info *Info) ResolveBreakpointSource(path string, line, column int) (InstructionLocation, error) {
	canonical := canonicalizePath(path)

	for _, cu := range info.units {
		sequences, err := info.sequencesFor(cu)
		if err != nil {
			return InstructionLocation{}, err
		}

		// Exact match first: file + line + column + HaltLocation.
		if column != 0 {
			for _, seq := range sequences {
				for _, loc := range seq.Locations {
					if loc.Kind != HaltLocation {
						continue
					}
					if canonicalizePath(loc.File) == canonical && loc.Line == line && loc.Column == column {
						return loc, nil
					}
				}
			}
		}

		// File + line match, any column, first valid hit.
		for _, seq := range sequences {
			for _, loc := range seq.Locations {
				if loc.Kind != HaltLocation {
					continue
				}
				if canonicalizePath(loc.File) == canonical && loc.Line == line {
					return loc, nil
				}
			}
		}
	}

	return InstructionLocation{}, ErrNoBreakpointLocation
}

// canonicalizePath normalises a DWARF line-table filename (which may be
// relative to a compilation directory, or use non-native separators)
// for comparison against a user-supplied path (spec.md §4.6.3's "file
// index 0 has special meaning... filename that canonicalises to path").
func canonicalizePath(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
