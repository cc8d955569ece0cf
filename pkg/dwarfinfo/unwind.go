package dwarfinfo

import (
	"encoding/binary"
	"errors"
)

// DWARF register numbers for the ARM EABI mapping (also valid for
// Thumb/Cortex-M): r0-r15 map directly, with r13=SP, r14=LR, r15=PC.
const (
	DwarfRegSP = 13
	DwarfRegLR = 14
	DwarfRegPC = 15
)

// RegisterSet is a snapshot of DWARF-numbered register values for one
// stack frame.
type RegisterSet map[uint64]uint64

func (s RegisterSet) clone() RegisterSet {
	out := make(RegisterSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ErrMissingDebugInfo is returned when no FDE covers a frame's PC —
// common for the outermost frame or code compiled without debug
// information (spec.md §4.6.4 step 1).
var ErrMissingDebugInfo = errors.New("dwarfinfo: no call frame information for address")

// ErrCorruptStack is returned when the CFA fails to change between two
// unwind steps while LR equals PC, the signature of a corrupted or
// looping stack (spec.md §4.6.4 step 2).
var ErrCorruptStack = errors.New("dwarfinfo: stack unwind detected no progress")

// MemoryReader reads target memory during unwinding, for CFA/register
// expressions and exception-frame restoration.
type MemoryReader func(address uint64, length int) ([]byte, error)

// Cursor walks a call stack frame by frame, starting from a live
// register snapshot (spec.md §4.6.4).
type Cursor struct {
	info        *Info
	regs        RegisterSet
	prevCFA     uint64
	havePrevCFA bool
}

// NewCursor starts an unwind at the given register snapshot (at
// minimum PC, SP, LR on ARM).
func (info *Info) NewCursor(regs RegisterSet) *Cursor {
	return &Cursor{info: info, regs: regs.clone()}
}

// Registers returns the current frame's register snapshot.
func (c *Cursor) Registers() RegisterSet { return c.regs }

// Step unwinds one frame. ok is false with a nil error when the unwind
// terminates cleanly (missing debug info for the caller's frame); a
// non-nil error indicates a corrupt stack or a malformed CFI program.
func (c *Cursor) Step(readMem MemoryReader) (ok bool, err error) {
	pc := c.regs[DwarfRegPC]
	lr := c.regs[DwarfRegLR]

	// ARMv7-M exception return: bypass CFI entirely and restore from
	// the hardware-pushed exception stack frame (spec.md §4.6.4 step 4).
	if isExceptionReturn(lr) {
		next, err := unwindExceptionFrame(c.regs, readMem)
		if err != nil {
			return false, err
		}
		c.regs = next
		c.havePrevCFA = false
		return true, nil
	}

	f, found := c.info.frame.fdeForAddress(pc)
	if !found {
		return false, nil
	}

	row, err := rowForAddress(f, pc)
	if err != nil {
		return false, err
	}

	cfa, err := computeCFA(row.cfa, c.regs, readMem)
	if err != nil {
		return false, err
	}

	if c.havePrevCFA && cfa == c.prevCFA && lr == pc {
		return false, ErrCorruptStack
	}

	next := make(RegisterSet, len(c.regs))
	for reg := range c.regs {
		next[reg] = c.regs[reg] // default: unchanged
	}

	for reg, rule := range row.regs {
		switch rule.kind {
		case ruleUndefined:
			delete(next, reg)
		case ruleSameValue:
			next[reg] = c.regs[reg]
		case ruleOffsetN:
			addr := uint64(int64(cfa) + rule.offset)
			data, err := readMem(addr, 4)
			if err != nil {
				return false, err
			}
			next[reg] = uint64(binary.LittleEndian.Uint32(data))
		case ruleValOffsetN:
			next[reg] = uint64(int64(cfa) + rule.offset)
		case ruleRegister:
			next[reg] = c.regs[rule.register]
		case ruleExpression:
			addr, err := evalExpressionWithCFA(rule.expr, c.regs, cfa, readMem)
			if err != nil {
				return false, err
			}
			data, err := readMem(addr, 4)
			if err != nil {
				return false, err
			}
			next[reg] = uint64(binary.LittleEndian.Uint32(data))
		case ruleValExpression:
			v, err := evalExpressionWithCFA(rule.expr, c.regs, cfa, readMem)
			if err != nil {
				return false, err
			}
			next[reg] = v
		}
	}

	// The caller resumes at the value restored into the CIE's
	// return-address column (LR on ARM).
	if ra, ok := next[f.cie.returnAddressReg]; ok {
		next[DwarfRegPC] = ra
	}
	next[DwarfRegSP] = cfa
	c.regs = next
	c.prevCFA = cfa
	c.havePrevCFA = true
	return true, nil
}

func computeCFA(rule cfaRule, regs RegisterSet, readMem MemoryReader) (uint64, error) {
	if rule.kind == cfaRegisterOffset {
		return uint64(int64(regs[rule.register]) + rule.offset), nil
	}
	return evalExpression(rule.expr, regs, readMem)
}

// isExceptionReturn reports whether lr holds an ARMv7-M EXC_RETURN
// value rather than an ordinary return address.
func isExceptionReturn(lr uint64) bool {
	return lr&0xFF000000 == 0xFF000000
}

// unwindExceptionFrame restores registers from the hardware exception
// stack frame an ARMv7-M exception entry pushes: 8 words (R0-R3, R12,
// LR, PC, xPSR) for a standard frame, or 26 words when floating-point
// state was also stacked (16 FP registers + FPSCR + reserved word
// ahead of the 8 core words), decoded from EXC_RETURN bit 4
// (spec.md §4.6.4 step 4).
func unwindExceptionFrame(regs RegisterSet, readMem MemoryReader) (RegisterSet, error) {
	lr := regs[DwarfRegLR]
	standardFrame := lr&0x10 != 0
	frameWords := 26
	if standardFrame {
		frameWords = 8
	}

	sp := regs[DwarfRegSP]
	data, err := readMem(sp, frameWords*4)
	if err != nil {
		return nil, err
	}

	coreOffset := 0
	if !standardFrame {
		coreOffset = 18 * 4
	}
	core := data[coreOffset:]

	next := regs.clone()
	next[0] = uint64(binary.LittleEndian.Uint32(core[0:4]))
	next[1] = uint64(binary.LittleEndian.Uint32(core[4:8]))
	next[2] = uint64(binary.LittleEndian.Uint32(core[8:12]))
	next[3] = uint64(binary.LittleEndian.Uint32(core[12:16]))
	next[12] = uint64(binary.LittleEndian.Uint32(core[16:20]))
	next[DwarfRegLR] = uint64(binary.LittleEndian.Uint32(core[20:24]))
	next[DwarfRegPC] = uint64(binary.LittleEndian.Uint32(core[24:28]))
	next[DwarfRegSP] = sp + uint64(frameWords*4)

	return next, nil
}
