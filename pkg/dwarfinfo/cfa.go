package dwarfinfo

import (
	"bytes"
	"errors"
)

type cfaKind int

const (
	cfaRegisterOffset cfaKind = iota
	cfaExpressionRule
)

// cfaRule is the current frame's rule for computing the Canonical
// Frame Address.
type cfaRule struct {
	kind     cfaKind
	register uint64
	offset   int64
	expr     []byte
}

type regRuleKind int

const (
	ruleUndefined regRuleKind = iota
	ruleSameValue
	ruleOffsetN      // previous value at CFA+offset
	ruleValOffsetN   // previous value is CFA+offset (not dereferenced)
	ruleRegister     // previous value is another register's current value
	ruleExpression   // previous value at *eval(expr)
	ruleValExpression // previous value is eval(expr)
)

type regRule struct {
	kind     regRuleKind
	register uint64
	offset   int64
	expr     []byte
}

// rowState is the CFI row in effect at one program-counter value: the
// CFA rule plus a rule per callee-saved register.
type rowState struct {
	cfa  cfaRule
	regs map[uint64]regRule
}

func newRowState() rowState {
	return rowState{regs: make(map[uint64]regRule)}
}

func (s rowState) clone() rowState {
	regs := make(map[uint64]regRule, len(s.regs))
	for k, v := range s.regs {
		regs[k] = v
	}
	return rowState{cfa: s.cfa, regs: regs}
}

// rowForAddress runs f's CIE instructions (establishing the initial
// row) followed by its own instructions up to addr, returning the CFI
// row that applies there. Grounded in decodeFrameInstruction's
// opcode-by-opcode walk in
// other_examples/a4101a65_JetSetIlly-Gopher2600__coprocessor-developer-dwarf-dwarf_frame.go.go,
// generalized from producing only a framebase value to producing the
// full register-rule row spec.md §4.6.4 needs for multi-register
// unwinding.
func rowForAddress(f *fde, addr uint64) (rowState, error) {
	state := newRowState()
	var loc uint64
	var stack []rowState

	if err := runCFAProgram(f.cie.instructions, f.cie.codeAlignment, f.cie.dataAlignment, &state, &loc, addr, &stack); err != nil {
		return rowState{}, err
	}

	loc = f.startAddress
	if err := runCFAProgram(f.instructions, f.cie.codeAlignment, f.cie.dataAlignment, &state, &loc, addr, &stack); err != nil {
		return rowState{}, err
	}

	return state, nil
}

// runCFAProgram interprets DWARF call frame instructions, advancing
// loc and mutating state, stopping once an advance would carry loc
// past target (the remaining instructions apply to a later address
// range and don't affect the row at target).
func runCFAProgram(instructions []byte, codeAlign uint64, dataAlign int64, state *rowState, loc *uint64, target uint64, stateStack *[]rowState) error {
	r := bytes.NewReader(instructions)
	for r.Len() > 0 {
		opByte, err := r.ReadByte()
		if err != nil {
			return err
		}

		if hi := opByte & 0xc0; hi != 0 {
			low := uint64(opByte & 0x3f)
			switch hi {
			case 0x40: // DW_CFA_advance_loc
				newLoc := *loc + low*codeAlign
				if newLoc > target {
					return nil
				}
				*loc = newLoc
			case 0x80: // DW_CFA_offset
				off, err := decodeULEB128(r)
				if err != nil {
					return err
				}
				state.regs[low] = regRule{kind: ruleOffsetN, offset: int64(off) * dataAlign}
			case 0xc0: // DW_CFA_restore
				delete(state.regs, low)
			}
			continue
		}

		switch opByte {
		case 0x00: // nop
		case 0x01: // set_loc
			var buf [4]byte
			if _, err := r.Read(buf[:]); err != nil {
				return err
			}
			newLoc := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24
			if newLoc > target {
				return nil
			}
			*loc = newLoc
		case 0x02: // advance_loc1
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			newLoc := *loc + uint64(b)*codeAlign
			if newLoc > target {
				return nil
			}
			*loc = newLoc
		case 0x03: // advance_loc2
			var buf [2]byte
			if _, err := r.Read(buf[:]); err != nil {
				return err
			}
			delta := uint64(buf[0]) | uint64(buf[1])<<8
			newLoc := *loc + delta*codeAlign
			if newLoc > target {
				return nil
			}
			*loc = newLoc
		case 0x04: // advance_loc4
			var buf [4]byte
			if _, err := r.Read(buf[:]); err != nil {
				return err
			}
			delta := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24
			newLoc := *loc + delta*codeAlign
			if newLoc > target {
				return nil
			}
			*loc = newLoc
		case 0x05: // offset_extended
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			off, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleOffsetN, offset: int64(off) * dataAlign}
		case 0x06: // restore_extended
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			delete(state.regs, reg)
		case 0x07: // undefined
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleUndefined}
		case 0x08: // same_value
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleSameValue}
		case 0x09: // register
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			reg2, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleRegister, register: reg2}
		case 0x0a: // remember_state
			*stateStack = append(*stateStack, state.clone())
		case 0x0b: // restore_state
			if len(*stateStack) == 0 {
				return errors.New("dwarfinfo: DW_CFA_restore_state with empty stack")
			}
			top := (*stateStack)[len(*stateStack)-1]
			*stateStack = (*stateStack)[:len(*stateStack)-1]
			*state = top.clone()
		case 0x0c: // def_cfa
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			off, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.cfa = cfaRule{kind: cfaRegisterOffset, register: reg, offset: int64(off)}
		case 0x0d: // def_cfa_register
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.cfa.kind = cfaRegisterOffset
			state.cfa.register = reg
		case 0x0e: // def_cfa_offset
			off, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.cfa.offset = int64(off)
		case 0x0f: // def_cfa_expression
			length, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			expr := make([]byte, length)
			if _, err := r.Read(expr); err != nil {
				return err
			}
			state.cfa = cfaRule{kind: cfaExpressionRule, expr: expr}
		case 0x10: // expression
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			length, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			expr := make([]byte, length)
			if _, err := r.Read(expr); err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleExpression, expr: expr}
		case 0x11: // offset_extended_sf
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			off, err := decodeSLEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleOffsetN, offset: off * dataAlign}
		case 0x12: // def_cfa_sf
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			off, err := decodeSLEB128(r)
			if err != nil {
				return err
			}
			state.cfa = cfaRule{kind: cfaRegisterOffset, register: reg, offset: off * dataAlign}
		case 0x13: // def_cfa_offset_sf
			off, err := decodeSLEB128(r)
			if err != nil {
				return err
			}
			state.cfa.offset = off * dataAlign
		case 0x14: // val_offset
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			off, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleValOffsetN, offset: int64(off) * dataAlign}
		case 0x15: // val_offset_sf
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			off, err := decodeSLEB128(r)
			if err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleValOffsetN, offset: off * dataAlign}
		case 0x16: // val_expression
			reg, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			length, err := decodeULEB128(r)
			if err != nil {
				return err
			}
			expr := make([]byte, length)
			if _, err := r.Read(expr); err != nil {
				return err
			}
			state.regs[reg] = regRule{kind: ruleValExpression, expr: expr}
		default:
			return errors.New("dwarfinfo: unsupported DW_CFA opcode")
		}
	}
	return nil
}
