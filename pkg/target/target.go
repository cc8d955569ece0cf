// Package target parses the target-description YAML file spec.md §6
// describes as a "data collaborator, not a wire format": the per-chip
// memory map, flash-algorithm reference, and core type that
// cmd/flash.go and cmd/root.go need to drive a session without a
// hard-coded chip profile (unlike the teacher's pkg/config, which
// bakes its three Foenix machine profiles in as Go constants).
package target

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/daschewie/probecore/pkg/flash"

	"go.yaml.in/yaml/v3"
)

// Region describes one memory-mapped region of the target (RAM or
// flash), by address range.
type Region struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // "ram" or "flash"
	Start   uint64 `yaml:"start"`
	Size    uint64 `yaml:"size"`
	IsBoot  bool   `yaml:"is_boot_memory"`
}

// Contains reports whether addr falls within the region.
func (r Region) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.Start+r.Size
}

// End returns the address one past the region's last byte.
func (r Region) End() uint64 { return r.Start + r.Size }

// AlgorithmRef is the YAML-level description of a flash algorithm: the
// instruction blob (base64 or hex, per spec §6) plus the entry-point
// offsets and flash geometry, resolved into a flash.Algorithm before
// use.
type AlgorithmRef struct {
	LoadAddress     uint64            `yaml:"load_address"`
	InstructionsB64 string            `yaml:"instructions_base64"`
	InstructionsHex string            `yaml:"instructions_hex"`
	EntryPoints     map[string]uint64 `yaml:"entry_points"`
	StaticBase      uint64            `yaml:"static_base"`
	BeginStack      uint64            `yaml:"begin_stack"`
	BeginData       uint64            `yaml:"begin_data"`
	PageBuffers     []uint64          `yaml:"page_buffers"`
	PageSize        uint32            `yaml:"page_size"`
	SectorSize      uint32            `yaml:"sector_size"`
	ErasedByteValue *byte             `yaml:"erased_byte_value"`
}

// Resolve decodes the algorithm's instruction blob and builds the
// flash.Algorithm the flash engine actually invokes. Per spec §9's
// open question on the blob's first-instruction convention, the blob
// is treated as position-independent code loaded verbatim at
// LoadAddress with every entry point an absolute address within it —
// the CMSIS-Pack FLM convention spec §6 references — rather than a
// header format spec.md never specifies the fields of.
func (a *AlgorithmRef) Resolve() (*flash.Algorithm, error) {
	instructions, err := a.decodeInstructions()
	if err != nil {
		return nil, err
	}
	if len(a.EntryPoints) == 0 {
		return nil, fmt.Errorf("target: algorithm has no entry_points")
	}
	if a.PageSize == 0 || a.SectorSize == 0 {
		return nil, fmt.Errorf("target: algorithm flash geometry missing page_size/sector_size")
	}

	erased := byte(0xFF)
	if a.ErasedByteValue != nil {
		erased = *a.ErasedByteValue
	}

	entries := make(map[string]uint64, len(a.EntryPoints))
	for name, addr := range a.EntryPoints {
		entries[name] = addr
	}

	return &flash.Algorithm{
		Instructions: instructions,
		LoadAddress:  a.LoadAddress,
		EntryPoints:  entries,
		StaticBase:   a.StaticBase,
		BeginStack:   a.BeginStack,
		BeginData:    a.BeginData,
		PageBuffers:  append([]uint64(nil), a.PageBuffers...),
		FlashProperties: flash.FlashProperties{
			PageSize:        a.PageSize,
			SectorSize:      a.SectorSize,
			ErasedByteValue: erased,
		},
	}, nil
}

func (a *AlgorithmRef) decodeInstructions() ([]byte, error) {
	switch {
	case a.InstructionsB64 != "":
		b, err := base64.StdEncoding.DecodeString(a.InstructionsB64)
		if err != nil {
			return nil, fmt.Errorf("target: decode instructions_base64: %w", err)
		}
		return b, nil
	case a.InstructionsHex != "":
		b, err := hex.DecodeString(a.InstructionsHex)
		if err != nil {
			return nil, fmt.Errorf("target: decode instructions_hex: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("target: algorithm has neither instructions_base64 nor instructions_hex")
	}
}

// Target is the top-level target-description document: the memory map,
// the flash algorithm reference, the core type passed through to
// session.Attach's ABI selection, and an optional named debug-sequence
// hook (spec §6's "optional debug-sequence hook name" — the hook's
// implementation is an external collaborator, not specified here; the
// core only carries its name through).
type Target struct {
	Name          string       `yaml:"name"`
	MemoryRegions []Region     `yaml:"memory_regions"`
	Algorithm     AlgorithmRef `yaml:"algorithm"`
	Core          string       `yaml:"core"`
	DebugSequence string       `yaml:"debug_sequence"`
}

// FlashRegion returns the target's flash memory region, the region
// flash addresses outside of any user image must fall within.
func (t *Target) FlashRegion() (Region, bool) {
	for _, r := range t.MemoryRegions {
		if r.Kind == "flash" {
			return r, true
		}
	}
	return Region{}, false
}

// Load reads and parses a target-description YAML file.
func Load(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("target: read %s: %w", path, err)
	}
	var t Target
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("target: parse %s: %w", path, err)
	}
	if len(t.MemoryRegions) == 0 {
		return nil, fmt.Errorf("target: %s declares no memory_regions", path)
	}
	return &t, nil
}
