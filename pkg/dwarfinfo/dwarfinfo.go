// Package dwarfinfo resolves source-level debug information — source
// lines, breakpoint addresses, and stack unwinding — from the DWARF
// data embedded in an ELF firmware image (spec.md §4.6). It is built
// entirely on the standard library's debug/dwarf and debug/elf, the
// same pair used by the pack's own DWARF consumer
// (other_examples/39cd7862_JetSetIlly-Gopher2600__coprocessor-developer-source.go.go
// and its sibling dwarf_frame.go), since no third-party DWARF library
// in the corpus supersedes the standard one.
package dwarfinfo

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sync"
)

// Info owns the parsed DWARF/ELF data for one firmware image and
// caches per-compilation-unit line-program walks, mirroring the role
// Source.compileUnits plays as a pre-indexed children map in the
// Gopher2600 reference.
type Info struct {
	elfFile *elf.File
	data    *dwarf.Data

	mu        sync.Mutex
	unitCache map[dwarf.Offset]*compileUnit
	units     []*compileUnit
	frame     *frameSection
}

// compileUnit caches one compilation unit's entry, address ranges, and
// lazily-built line-program sequences.
type compileUnit struct {
	entry     *dwarf.Entry
	ranges    [][2]uint64
	language  int64
	sequences []*InstructionSequence // built lazily on first use
	built     bool
}

func (cu *compileUnit) covers(addr uint64) bool {
	for _, r := range cu.ranges {
		if addr >= r[0] && addr < r[1] {
			return true
		}
	}
	return false
}

// Load opens an ELF file and parses its DWARF debug information.
func Load(path string) (*Info, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: open %s: %w", path, err)
	}
	return loadFromELF(ef)
}

func loadFromELF(ef *elf.File) (*Info, error) {
	data, err := ef.DWARF()
	if err != nil {
		ef.Close()
		return nil, fmt.Errorf("dwarfinfo: parse DWARF: %w", err)
	}

	info := &Info{elfFile: ef, data: data, unitCache: make(map[dwarf.Offset]*compileUnit)}
	if err := info.indexCompileUnits(); err != nil {
		ef.Close()
		return nil, err
	}

	frame, err := newFrameSectionFromELF(ef)
	if err != nil {
		ef.Close()
		return nil, err
	}
	info.frame = frame

	return info, nil
}

// Close releases the underlying ELF file.
func (info *Info) Close() error {
	return info.elfFile.Close()
}

func (info *Info) indexCompileUnits() error {
	r := info.data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("dwarfinfo: walk compile units: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		ranges, err := info.data.Ranges(entry)
		if err != nil {
			return fmt.Errorf("dwarfinfo: address ranges for compile unit: %w", err)
		}
		language, _ := entry.Val(dwarf.AttrLanguage).(int64)

		cu := &compileUnit{entry: entry, ranges: ranges, language: language}
		info.unitCache[entry.Offset] = cu
		info.units = append(info.units, cu)

		r.SkipChildren()
	}
	return nil
}

// sequencesFor returns the compilation unit's line-program sequences,
// building and caching them on first request.
func (info *Info) sequencesFor(cu *compileUnit) ([]*InstructionSequence, error) {
	info.mu.Lock()
	defer info.mu.Unlock()

	if cu.built {
		return cu.sequences, nil
	}

	seqs, err := buildSequences(info.data, cu)
	if err != nil {
		return nil, err
	}
	cu.sequences = seqs
	cu.built = true
	return seqs, nil
}

// unitForAddress finds the compilation unit whose address ranges cover addr.
func (info *Info) unitForAddress(addr uint64) (*compileUnit, bool) {
	for _, cu := range info.units {
		if cu.covers(addr) {
			return cu, true
		}
	}
	return nil, false
}
