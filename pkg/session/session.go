// Package session ties the debug transport stack, the flash engine and
// the DWARF resolver into the single façade a caller (CLI, GDB stub,
// DAP server — all external collaborators per spec §1) actually drives.
// It owns the probe exclusively (spec §5's "exclusive handle"). The DP,
// AP list, memory interface and core control that Attach builds belong
// to the Session for its lifetime; a flash pipeline is built afresh for
// each Flash call. Nothing here is reference-counted: each component
// has exactly one owner.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/daschewie/probecore/pkg/adiv5/ap"
	"github.com/daschewie/probecore/pkg/adiv5/dp"
	"github.com/daschewie/probecore/pkg/adiv5/mem"
	"github.com/daschewie/probecore/pkg/adiv5/wire"
	"github.com/daschewie/probecore/pkg/arch"
	"github.com/daschewie/probecore/pkg/dwarfinfo"
	"github.com/daschewie/probecore/pkg/flash"
)

// Cortex-M Flash Patch and Breakpoint unit: the hardware comparator
// bank a halted core's breakpoints are set through (data flow in
// spec §1: "caller -> DWARF resolver (lookup) -> memory interface (set
// HW breakpoint register)").
const (
	addrFPCTRL  = 0xE0002000
	addrFPCOMP0 = 0xE0002008
	fpctrlKey   = 1 << 1
	fpctrlEnable = 1 << 0
	fpCompEnable = 1 << 0
)

// Breakpoint is one armed hardware breakpoint, remembering which FPB
// comparator slot it occupies so it can be cleared later.
type Breakpoint struct {
	Slot    int
	Address uint64
	Source  dwarfinfo.InstructionLocation
}

// Session owns one physical probe, the DP state Attach creates,
// and the current Memory-AP, core-control and DWARF-resolver bindings
// built from it. All wire access is serialized through mu (spec §5:
// "callers that want to interleave work... do so by taking a mutex
// around the session and releasing it between short transactions").
type Session struct {
	mu sync.Mutex

	probe wire.Probe
	dp    *dp.DP
	aps   []*ap.AP
	mem   *mem.Memory

	core flash.CoreControl
	abi  arch.ABI

	dwarf       *dwarfinfo.Info
	breakpoints []*Breakpoint
	nextSlot    int

	// PowerDownOnDetach resolves spec §9's open question: whether to
	// clear CDBGPWRUPREQ on Close. Defaults to true; callers whose
	// target must stay powered for a live RTT/GDB client downstream
	// should set it false before calling Close.
	PowerDownOnDetach bool
}

// Attach opens a Session against probe, running the DP power-up
// handshake and AP enumeration/classification (spec §4.2, §4.3), and
// binds the memory interface to the first Memory-AP found. core names
// the target's CPU architecture, selecting the arch.ABI and
// flash.CoreControl implementation (spec §4.5.1; only Cortex-M core
// control is implemented here, see DESIGN.md).
func Attach(probe wire.Probe, sel wire.TargetSelector, core string) (*Session, error) {
	d, err := dp.Attach(probe, sel)
	if err != nil {
		return nil, fmt.Errorf("session: attach: %w", err)
	}

	aps, err := ap.Scan(d)
	if err != nil {
		return nil, fmt.Errorf("session: scan APs: %w", err)
	}

	var memAP *ap.AP
	for _, a := range aps {
		if a.Info.Class == ap.ClassMemoryAP {
			memAP = a
			break
		}
	}
	if memAP == nil {
		return nil, fmt.Errorf("session: no Memory-AP found on %s", sel)
	}

	m := mem.New(memAP)
	abi, err := abiFor(core)
	if err != nil {
		return nil, err
	}

	s := &Session{
		probe:             probe,
		dp:                d,
		aps:               aps,
		mem:               m,
		abi:               abi,
		core:              flash.NewCortexMCore(m),
		PowerDownOnDetach: true,
	}
	return s, nil
}

func abiFor(core string) (arch.ABI, error) {
	switch core {
	case "cortex-m0", "cortex-m0plus", "cortex-m3", "cortex-m4", "cortex-m7", "cortex-m23", "cortex-m33", "":
		return arch.CortexM{}, nil
	case "riscv", "rv32", "rv64":
		return arch.RISCV{}, nil
	default:
		return nil, fmt.Errorf("session: unsupported core %q", core)
	}
}

// Mem exposes the bound Memory-AP for ad-hoc reads/writes (a CLI's
// "dump"/"write" commands, for instance).
func (s *Session) Mem() *mem.Memory { return s.mem }

// APs returns the enumerated, classified Access Ports (spec §4.3).
func (s *Session) APs() []*ap.AP { return s.aps }

// Halt stops the core (spec §4.5.1 step 2's halt, exposed standalone
// for interactive debugging rather than only as flash-pipeline setup).
func (s *Session) Halt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.Halt()
}

// Resume restarts the core after a halt.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.core.Resume()
}

// WaitHalted blocks until the core reports S_HALT or timeout elapses
// (spec §5's explicit per-poll-loop deadline).
func (s *Session) WaitHalted(timeout time.Duration) error {
	return s.core.WaitHalted(timeout)
}

// Step single-steps one instruction: set C_STEP via the same DHCSR the
// flash engine's CoreControl halts through, then wait for the core to
// re-halt. Mirrors Halt/Resume's direct register poke rather than
// adding a new capability to flash.CoreControl, which has no stepping
// need of its own.
func (s *Session) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	const dhcsrDbgKey = 0xA05F0000
	const cDebugEn = 1 << 0
	const cStep = 1 << 2
	if err := s.mem.Write32(0xE000EDF0, dhcsrDbgKey|cDebugEn|cStep); err != nil {
		return fmt.Errorf("session: step: %w", err)
	}
	return s.core.WaitHalted(500 * time.Millisecond)
}

// LoadDWARF opens a DWARF-bearing ELF image for source-location
// resolution (spec §4.6). The resolver is independent of the transport
// stack; a Session without debug info loaded can still halt/resume/
// flash, it just can't answer source-level queries.
func (s *Session) LoadDWARF(path string) error {
	info, err := dwarfinfo.Load(path)
	if err != nil {
		return fmt.Errorf("session: load debug info: %w", err)
	}
	s.dwarf = info
	return nil
}

// SetBreakpointAtAddress resolves addr to a valid halt location (spec
// §4.6.2) and arms the next free FPB comparator there.
func (s *Session) SetBreakpointAtAddress(addr uint64) (*Breakpoint, error) {
	if s.dwarf == nil {
		return nil, fmt.Errorf("session: no debug info loaded")
	}
	loc, err := s.dwarf.ResolveBreakpointAddress(addr)
	if err != nil {
		return nil, err
	}
	return s.armBreakpoint(loc)
}

// SetBreakpointAtSource resolves (path, line, column) to a valid halt
// location (spec §4.6.3, with column fallback) and arms it.
func (s *Session) SetBreakpointAtSource(path string, line, column int) (*Breakpoint, error) {
	if s.dwarf == nil {
		return nil, fmt.Errorf("session: no debug info loaded")
	}
	loc, err := s.dwarf.ResolveBreakpointSource(path, line, column)
	if err != nil {
		return nil, err
	}
	return s.armBreakpoint(loc)
}

func (s *Session) armBreakpoint(loc dwarfinfo.InstructionLocation) (*Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.nextSlot
	if err := s.mem.Write32(addrFPCTRL, fpctrlKey|fpctrlEnable); err != nil {
		return nil, fmt.Errorf("session: enable FPB: %w", err)
	}
	comp := uint32(loc.Address&^0x3) | fpCompEnable
	if err := s.mem.Write32(uint64(addrFPCOMP0+slot*4), comp); err != nil {
		return nil, fmt.Errorf("session: arm breakpoint comparator %d: %w", slot, err)
	}

	bp := &Breakpoint{Slot: slot, Address: loc.Address, Source: loc}
	s.breakpoints = append(s.breakpoints, bp)
	s.nextSlot++
	return bp, nil
}

// ClearBreakpoint disarms a previously-set comparator.
func (s *Session) ClearBreakpoint(bp *Breakpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Write32(uint64(addrFPCOMP0+bp.Slot*4), 0); err != nil {
		return fmt.Errorf("session: clear breakpoint comparator %d: %w", bp.Slot, err)
	}
	for i, b := range s.breakpoints {
		if b == bp {
			s.breakpoints = append(s.breakpoints[:i], s.breakpoints[i+1:]...)
			break
		}
	}
	return nil
}

// Flash runs the five-stage init/fill/erase/program/uninit pipeline
// (spec §4.5.3) against algorithm using the Session's bound memory interface
// and core control, reporting progress on events. Flash blocks until
// the pipeline finishes or fails; drain events concurrently.
func (s *Session) Flash(algorithm *flash.Algorithm, sectors []*flash.Sector, options flash.Options, events chan<- flash.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := flash.NewPipeline(algorithm, s.core, s.mem, s.abi, sectors, options)
	return p.Run(events)
}

// Close detaches from the target. Per the PowerDownOnDetach policy
// (spec §9's open question, resolved per-session rather than guessed),
// it optionally clears CDBGPWRUPREQ/CSYSPWRUPREQ so a target that only
// sleeps once the debugger releases power can do so.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PowerDownOnDetach {
		if err := dp.WriteRegister(s.dp, dp.CTRLSTAT{}); err != nil {
			return fmt.Errorf("session: power down on detach: %w", err)
		}
	}
	return s.probe.Close()
}
