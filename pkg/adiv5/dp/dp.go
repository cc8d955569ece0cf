// Package dp implements the ADIv5/ADIv6 Debug Port state machine: the
// connect/power-up handshake, SELECT-bank caching, and sticky-fault
// recovery that sit above the raw wire.Probe contract.
package dp

import (
	"fmt"
	"time"

	"github.com/daschewie/probecore/pkg/adiv5/wire"
)

// powerUpTimeout bounds the CDBGPWRUPACK/CSYSPWRUPACK poll (spec §4.2
// step 2).
const powerUpTimeout = time.Second

// DP is one target's Debug Port: a probe, the target selector it is
// attached to, and the cached SELECT state that lets repeated typed
// register access avoid redundant bank switches.
type DP struct {
	probe    wire.Probe
	selector wire.TargetSelector

	version  Version
	selectSet bool
	selectCache SELECT
}

// Attach connects to the DP identified by sel (the zero value for a
// single-drop bus) and runs the power-up handshake (spec §4.2 steps
// 1-2).
func Attach(probe wire.Probe, sel wire.TargetSelector) (*DP, error) {
	if err := probe.Attach(sel); err != nil {
		return nil, fmt.Errorf("dp: connect: %w", err)
	}

	d := &DP{probe: probe, selector: sel}

	ididr, err := ReadRegister[DPIDR](d)
	if err != nil {
		return nil, fmt.Errorf("dp: read DPIDR: %w", err)
	}
	d.version = ididr.Version

	if err := d.powerUp(); err != nil {
		return nil, err
	}

	return d, nil
}

// Version reports the DP architecture version determined at Attach.
func (d *DP) Version() Version { return d.version }

// PowerUp re-runs the debug/system power-up handshake (spec §4.2 step
// 2). Exposed for the memory interface's fault recovery (spec §4.4:
// "memory transactions on a powered-down AP surface as a fault that
// clears sticky flags and retries the power-up handshake once").
func (d *DP) PowerUp() error { return d.powerUp() }

func (d *DP) powerUp() error {
	if err := WriteRegister(d, powerUpRequest()); err != nil {
		return fmt.Errorf("dp: power-up request: %w", err)
	}

	deadline := time.Now().Add(powerUpTimeout)
	for {
		status, err := ReadRegister[CTRLSTAT](d)
		if err != nil {
			return fmt.Errorf("dp: poll CTRL/STAT: %w", err)
		}
		if status.CDBGPWRUPACK && status.CSYSPWRUPACK {
			break
		}
		if time.Now().After(deadline) {
			return &wire.Error{Kind: wire.ErrTargetPowerUpFailed, Op: "power-up handshake"}
		}
	}

	return WriteRegister(d, clearAllStickyFlags())
}

// SelectMultidrop switches the active target on a multi-drop SWD bus,
// re-running the connect/power-up sequence for the new selector. A
// no-op if sel matches the currently attached target.
func (d *DP) SelectMultidrop(sel wire.TargetSelector) error {
	if sel == d.selector {
		return nil
	}
	if err := d.probe.Attach(sel); err != nil {
		return fmt.Errorf("dp: select target: %w", err)
	}
	d.selector = sel
	d.selectSet = false
	return d.powerUp()
}

// ensureBank writes SELECT only when the requested DP bank differs
// from the cached value (spec §4.2 step 3). Unbanked registers (addr2
// not in {0x0, 0x4}) never need a SELECT update.
func (d *DP) ensureBank(bank uint8, addr2 uint8) error {
	if addr2 != 0x0 && addr2 != 0x4 {
		return nil
	}
	if d.selectSet && d.selectCache.DPBank == bank {
		return nil
	}

	sel := SELECT{APSel: d.selectCache.APSel, APBank: d.selectCache.APBank, DPBank: bank}
	if err := d.rawWrite(wire.DebugPort, 0x8, sel.encode()); err != nil {
		return err
	}
	d.selectCache = sel
	d.selectSet = true
	return nil
}

// SyncAPSelect is called by the ap package so that AP-register access
// shares the same SELECT cache as DP-register access (spec §4.3: both
// layers write the one SELECT register).
func (d *DP) SyncAPSelect(apSel uint8, apBank uint8) error {
	if d.selectSet && d.selectCache.APSel == apSel && d.selectCache.APBank == apBank {
		return nil
	}
	sel := SELECT{APSel: apSel, APBank: apBank, DPBank: d.selectCache.DPBank}
	if err := d.rawWrite(wire.DebugPort, 0x8, sel.encode()); err != nil {
		return err
	}
	d.selectCache = sel
	d.selectSet = true
	return nil
}

// RawAccessPortRead/RawAccessPortWrite let the ap/mem layers reach the
// probe directly once SyncAPSelect has set the active AP, applying the
// same fault-clearing discipline as typed DP access.
func (d *DP) RawAccessPortRead(addr2 uint8) (uint32, error) {
	return d.rawReadWithFaultClear(wire.AccessPort, addr2)
}

func (d *DP) RawAccessPortWrite(addr2 uint8, value uint32) error {
	return d.rawWrite(wire.AccessPort, addr2, value)
}

func (d *DP) RawAccessPortReadBlock(addr2 uint8, n int) ([]uint32, error) {
	words, err := d.probe.RawReadBlock(wire.AccessPort, addr2, n)
	if err != nil {
		return nil, d.handleFault(err)
	}
	return words, nil
}

func (d *DP) RawAccessPortWriteBlock(addr2 uint8, data []uint32) error {
	if err := d.probe.RawWriteBlock(wire.AccessPort, addr2, data); err != nil {
		return d.handleFault(err)
	}
	return nil
}

func (d *DP) typedRead(port wire.PortType, bank uint8, addr2 uint8) (uint32, error) {
	if port == wire.DebugPort {
		if err := d.ensureBank(bank, addr2); err != nil {
			return 0, err
		}
	}
	return d.rawReadWithFaultClear(port, addr2)
}

func (d *DP) typedWrite(port wire.PortType, bank uint8, addr2 uint8, value uint32) error {
	if port == wire.DebugPort && addr2 != 0x0 { // ABORT bypasses bank gating
		if err := d.ensureBank(bank, addr2); err != nil {
			return err
		}
	}
	return d.rawWrite(port, addr2, value)
}

func (d *DP) rawReadWithFaultClear(port wire.PortType, addr2 uint8) (uint32, error) {
	value, err := d.probe.RawReadRegister(port, addr2)
	if err != nil {
		return 0, d.handleFault(err)
	}
	return value, nil
}

func (d *DP) rawWrite(port wire.PortType, addr2 uint8, value uint32) error {
	if err := d.probe.RawWriteRegister(port, addr2, value); err != nil {
		return d.handleFault(err)
	}
	return nil
}

// handleFault implements spec §4.2's "a Fault response mandates
// clearing sticky error bits via ABORT before any further access; this
// is done automatically by the DP layer before returning the error."
func (d *DP) handleFault(cause error) error {
	var wireErr *wire.Error
	if we, ok := cause.(*wire.Error); ok {
		wireErr = we
	}
	if wireErr == nil || wireErr.Kind != wire.ErrFault {
		return cause
	}

	if err := d.probe.RawWriteRegister(wire.DebugPort, 0x0, clearAllStickyFlags().Raw); err != nil {
		return fmt.Errorf("dp: clear sticky flags after fault: %w (original: %w)", err, cause)
	}
	return cause
}

// Probe exposes the underlying probe for the ap/mem layers' use of
// RawReadBlock/RawWriteBlock beyond the DP-mediated helpers above.
func (d *DP) Probe() wire.Probe { return d.probe }
