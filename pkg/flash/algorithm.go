// Package flash implements the flash programming engine: algorithm
// invocation, flash layout construction, and the five-stage programming
// pipeline (init, fill, erase, program, uninit, run after the algorithm
// is loaded and verified), driven against a target-RAM-resident algorithm image rather
// than a fixed on-chip command set.
package flash

import (
	"fmt"
	"time"

	"github.com/daschewie/probecore/pkg/arch"
)

// FlashProperties describes a target's flash geometry.
type FlashProperties struct {
	PageSize        uint32
	SectorSize      uint32
	ErasedByteValue byte
}

// Algorithm is a position-independent flash algorithm blob resident in
// target RAM, with its named entry points (spec §6, "Flash-algorithm
// binary convention").
type Algorithm struct {
	Instructions    []byte
	LoadAddress     uint64
	EntryPoints     map[string]uint64 // pc_init, pc_uninit, pc_program_page, pc_erase_sector, pc_erase_all
	StaticBase      uint64
	BeginStack      uint64
	BeginData       uint64
	PageBuffers     []uint64
	FlashProperties FlashProperties
}

func (a *Algorithm) entry(name string) (uint64, bool) {
	addr, ok := a.EntryPoints[name]
	return addr, ok
}

// Operation identifies why pc_init/pc_uninit is being called, passed as
// their second argument (spec §4.5.3's "operation ∈ {1=erase,
// 2=program, 3=verify}").
type Operation uint64

const (
	OpErase Operation = iota + 1
	OpProgram
	OpVerify
)

// Timeouts for the algorithm-invocation operations named in spec §4.5.1
// and §5 (concurrency model).
const (
	TimeoutInit         = 3 * time.Second
	TimeoutUninit       = 3 * time.Second
	TimeoutPageProgram  = 2 * time.Second
	TimeoutSectorErase  = 5 * time.Second
	TimeoutChipErase    = 30 * time.Second
)

// CoreControl is the target-core capability the flash engine needs:
// halting, resuming, waiting for halt, and reading/writing the
// registers an arch.ABI addresses by name.
type CoreControl interface {
	ResetAndHalt() error
	Halt() error
	Resume() error
	WaitHalted(timeout time.Duration) error
	WriteRegister(reg arch.Register, value uint64) error
	ReadRegister(reg arch.Register) (uint64, error)
}

// MemoryAccess is the target-RAM access capability the flash engine
// needs to load the algorithm and stage page/fill data.
type MemoryAccess interface {
	ReadBlock32(address uint64, n int) ([]uint32, error)
	WriteBlock32(address uint64, data []uint32) error
}

// invoker binds an algorithm to the core and memory capabilities used
// to run it.
type invoker struct {
	algorithm *Algorithm
	core      CoreControl
	mem       MemoryAccess
	abi       arch.ABI
}

// loadAlgorithm implements spec §4.5.1 step 1: write the instructions
// to load_address and verify byte-for-byte, "required because some
// probes or flaky wires silently corrupt writes."
func (iv *invoker) loadAlgorithm() error {
	words := bytesToWords(iv.algorithm.Instructions)
	if err := iv.mem.WriteBlock32(iv.algorithm.LoadAddress, words); err != nil {
		return fmt.Errorf("flash: write algorithm: %w", err)
	}
	readBack, err := iv.mem.ReadBlock32(iv.algorithm.LoadAddress, len(words))
	if err != nil {
		return fmt.Errorf("flash: verify algorithm: %w", err)
	}
	for i := range words {
		if readBack[i] != words[i] {
			return fmt.Errorf("flash: algorithm verification failed at word %d (wrote %#x, read %#x)", i, words[i], readBack[i])
		}
	}
	return nil
}

// invoke calls entry with args, following spec §4.5.1 steps 2-5: halt,
// set registers, resume, wait for halt (with an operation-specific
// timeout), read the result register.
func (iv *invoker) invoke(entryName string, args []uint64, isInit bool, timeout time.Duration) (uint64, error) {
	if err := iv.start(entryName, args, isInit); err != nil {
		return 0, err
	}
	return iv.waitResult(entryName, timeout)
}

// start performs spec §4.5.1 steps 2-4's setup and resume without
// waiting for completion, letting a caller (the double-buffered
// program stage) overlap host→target data transfer with the target
// executing the previous call.
func (iv *invoker) start(entryName string, args []uint64, isInit bool) error {
	entry, ok := iv.algorithm.entry(entryName)
	if !ok {
		return fmt.Errorf("flash: algorithm has no %s entry point", entryName)
	}

	if err := iv.core.Halt(); err != nil {
		return fmt.Errorf("flash: halt before %s: %w", entryName, err)
	}

	writes := []arch.RegisterWrite{
		iv.abi.SetPC(entry),
		iv.abi.SetSP(iv.algorithm.BeginStack),
		iv.abi.SetReturnTrap(iv.algorithm.LoadAddress),
	}
	if isInit {
		writes = append(writes, iv.abi.SetStaticBase(iv.algorithm.StaticBase))
	}
	for n, arg := range args {
		writes = append(writes, iv.abi.SetArg(n, arg))
	}

	for _, w := range writes {
		if err := iv.core.WriteRegister(w.Register, w.Value); err != nil {
			return fmt.Errorf("flash: set %s before %s: %w", w.Register, entryName, err)
		}
	}

	if err := iv.core.Resume(); err != nil {
		return fmt.Errorf("flash: resume for %s: %w", entryName, err)
	}
	return nil
}

// waitResult completes a call started with start: poll until halted,
// then read the result register.
func (iv *invoker) waitResult(entryName string, timeout time.Duration) (uint64, error) {
	if err := iv.core.WaitHalted(timeout); err != nil {
		return 0, fmt.Errorf("flash: %s did not complete within %s: %w", entryName, timeout, err)
	}

	result, err := iv.core.ReadRegister(iv.abi.ResultRegister())
	if err != nil {
		return 0, fmt.Errorf("flash: read result of %s: %w", entryName, err)
	}
	if result != 0 {
		return result, fmt.Errorf("flash: %s reported failure code %#x", entryName, result)
	}
	return result, nil
}

func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, (len(b)+3)/4)
	for i := range words {
		var w uint32
		for j := 0; j < 4; j++ {
			idx := i*4 + j
			if idx < len(b) {
				w |= uint32(b[idx]) << (8 * j)
			}
		}
		words[i] = w
	}
	return words
}
