// Package ap implements ADIv5/ADIv6 Access Port enumeration and
// classification: the IDR scan, Memory-AP debug-base discovery, and
// the CSW SIZE=U8 probe/restore that detects sub-word transfer support.
package ap

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/adiv5/dp"
)

// Class is the AP's IDR.CLASS field.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassCOMAP
	ClassMemoryAP
)

func classify(idr uint32) Class {
	switch (idr >> 13) & 0xF {
	case 0x0:
		return ClassCOMAP
	case 0x8:
		return ClassMemoryAP
	default:
		return ClassUnknown
	}
}

// AP register offsets (bank<<4 | addr2), matching wire.MockProbe's
// layout so the same numbers appear on both sides of the fake.
const (
	regCSW   = 0x00
	regTAR   = 0x04
	regTARHi = 0x08
	regDRW   = 0x0C
	regBASE2 = 0xF0
	regBASE  = 0xF8
	regIDR   = 0xFC
)

const (
	cswSizeMask       = 0x7
	cswAddrIncBit     = 1 << 4
	cswHNonSecBit     = 1 << 30
	cswSizeU8         = 0
	cswSizeU32        = 2
)

// Information is everything recorded about one AP during enumeration
// (spec §4.3 step 4).
type Information struct {
	Index             uint8
	IDR               uint32
	Class             Class
	DebugBase         uint64
	Supports8Bit      bool
	HNonSecSupported  bool
}

// AP is a handle to one enumerated Access Port, bound to the DP it was
// discovered on.
type AP struct {
	dp    *dp.DP
	Index uint8
	Info  Information
}

// Scan iterates candidate AP indices 0..255, stopping at the first
// all-zero IDR (spec §4.3 steps 1-2), and classifies every populated
// AP found.
func Scan(d *dp.DP) ([]*AP, error) {
	var found []*AP
	for idx := 0; idx <= 255; idx++ {
		a := &AP{dp: d, Index: uint8(idx)}
		idr, err := a.readReg(regIDR)
		if err != nil {
			return nil, fmt.Errorf("ap: read IDR[%d]: %w", idx, err)
		}
		if idr == 0 {
			break
		}

		a.Info = Information{Index: a.Index, IDR: idr, Class: classify(idr)}
		if a.Info.Class == ClassMemoryAP {
			if err := a.classifyMemoryAP(); err != nil {
				return nil, fmt.Errorf("ap: classify AP[%d]: %w", idx, err)
			}
		}
		found = append(found, a)
	}
	return found, nil
}

// classifyMemoryAP implements spec §4.3 step 3: read BASE/BASE2 for the
// 64-bit debug base address, probe SIZE=U8 support via save/write/
// read-back/restore, and record HNONSEC.
func (a *AP) classifyMemoryAP() error {
	base, err := a.readReg(regBASE)
	if err != nil {
		return err
	}
	base2, err := a.readReg(regBASE2)
	if err != nil {
		return err
	}
	a.Info.DebugBase = uint64(base2)<<32 | uint64(base)

	oldCSW, err := a.readReg(regCSW)
	if err != nil {
		return err
	}

	probeCSW := (oldCSW &^ cswSizeMask) | cswSizeU8
	if err := a.writeReg(regCSW, probeCSW); err != nil {
		return err
	}
	readBack, err := a.readReg(regCSW)
	if err != nil {
		return err
	}
	a.Info.Supports8Bit = readBack&cswSizeMask == cswSizeU8

	if err := a.writeReg(regCSW, oldCSW); err != nil {
		return err
	}

	a.Info.HNonSecSupported = oldCSW&cswHNonSecBit != 0
	return nil
}

// PowerUp re-runs the owning DP's power-up handshake, for the memory
// interface's single power-up retry on a fault (spec §4.4).
func (a *AP) PowerUp() error { return a.dp.PowerUp() }

func (a *AP) readReg(offset uint8) (uint32, error) {
	bank := offset >> 4
	addr2 := offset & 0x0F
	if err := a.dp.SyncAPSelect(a.Index, bank); err != nil {
		return 0, err
	}
	return a.dp.RawAccessPortRead(addr2)
}

func (a *AP) writeReg(offset uint8, value uint32) error {
	bank := offset >> 4
	addr2 := offset & 0x0F
	if err := a.dp.SyncAPSelect(a.Index, bank); err != nil {
		return err
	}
	return a.dp.RawAccessPortWrite(addr2, value)
}

// ReadCSW/WriteCSW/ReadTAR/WriteTAR/ReadDRW/WriteDRW/ReadBlockDRW/
// WriteBlockDRW are the primitives the mem package composes into
// aligned and block transfers (spec §4.4). They are exported here
// rather than duplicated because the mem layer must share the same
// SELECT-bank-aware access path AP enumeration uses.

func (a *AP) ReadCSW() (uint32, error)         { return a.readReg(regCSW) }
func (a *AP) WriteCSW(value uint32) error      { return a.writeReg(regCSW, value) }
func (a *AP) WriteTAR(addr uint64) error {
	if err := a.writeReg(regTAR, uint32(addr)); err != nil {
		return err
	}
	return a.writeReg(regTARHi, uint32(addr>>32))
}
func (a *AP) ReadDRW() (uint32, error)    { return a.readReg(regDRW) }
func (a *AP) WriteDRW(value uint32) error { return a.writeReg(regDRW, value) }

func (a *AP) ReadBlockDRW(n int) ([]uint32, error) {
	bank := uint8(regDRW >> 4)
	if err := a.dp.SyncAPSelect(a.Index, bank); err != nil {
		return nil, err
	}
	return a.dp.RawAccessPortReadBlock(regDRW&0x0F, n)
}

func (a *AP) WriteBlockDRW(data []uint32) error {
	bank := uint8(regDRW >> 4)
	if err := a.dp.SyncAPSelect(a.Index, bank); err != nil {
		return err
	}
	return a.dp.RawAccessPortWriteBlock(regDRW&0x0F, data)
}
