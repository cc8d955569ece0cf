package dwarfinfo

import (
	"debug/dwarf"
	"encoding/binary"
	"testing"
)

// appendUleb128/appendSleb128 hand-encode the small LEB128 values needed to
// build the synthetic .debug_info/.debug_line sections below; leb128.go only
// needs decoders for the production unwind/expr machinery.
func appendUleb128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

func appendSleb128(buf []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// DW_TAG/DW_AT/DW_FORM values used by the fixture, named rather than
// imported from debug/dwarf since that package keeps them unexported.
const (
	tagCompileUnit = 0x11

	atName     = 0x03
	atStmtList = 0x10
	atLowpc    = 0x11
	atHighpc   = 0x12
	atCompDir  = 0x1b

	formAddr   = 0x01
	formData4  = 0x06
	formString = 0x08
)

// buildFixtureAbbrev encodes a single-entry abbreviation table: one
// DW_TAG_compile_unit DIE with name, comp_dir, low_pc, high_pc and
// stmt_list attributes, no children.
func buildFixtureAbbrev() []byte {
	var b []byte
	b = appendUleb128(b, 1) // abbreviation code
	b = appendUleb128(b, tagCompileUnit)
	b = append(b, 0) // has_children = no
	pairs := [][2]uint64{
		{atName, formString},
		{atCompDir, formString},
		{atLowpc, formAddr},
		{atHighpc, formData4},
		{atStmtList, formData4},
	}
	for _, p := range pairs {
		b = appendUleb128(b, p[0])
		b = appendUleb128(b, p[1])
	}
	b = appendUleb128(b, 0)
	b = appendUleb128(b, 0)
	b = appendUleb128(b, 0) // table terminator
	return b
}

// buildFixtureInfo encodes a .debug_info section with one DWARFv3 compile
// unit covering [lowPC, lowPC+size), whose line program starts at
// lineOffset in .debug_line.
func buildFixtureInfo(lowPC uint32, size uint32, lineOffset uint32) []byte {
	var die []byte
	die = appendUleb128(die, 1) // abbreviation code 1
	die = appendCString(die, "main.c")
	die = appendCString(die, "/work")
	die = binary.LittleEndian.AppendUint32(die, lowPC)
	die = binary.LittleEndian.AppendUint32(die, size)
	die = binary.LittleEndian.AppendUint32(die, lineOffset)

	body := make([]byte, 0, 7+len(die))
	body = binary.LittleEndian.AppendUint16(body, 3) // version
	body = binary.LittleEndian.AppendUint32(body, 0) // abbrev_offset
	body = append(body, 4)                           // address_size
	body = append(body, die...)

	out := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	return append(out, body...)
}

// lineRow describes one emitted line-program row for buildFixtureLine.
type lineRow struct {
	address     uint32
	line        int64
	column      uint64
	prologueEnd bool
}

// lineSequence is one line-program sequence: its rows followed by an
// implicit DW_LNE_end_sequence at endAddress.
type lineSequence struct {
	rows       []lineRow
	endAddress uint32
}

// buildFixtureLine encodes a DWARFv3 .debug_line section with one file
// ("/work/main.c") and the given sequences, using only
// DW_LNE_set_address/DW_LNS_advance_pc/set_column/advance_line/
// set_prologue_end/copy and DW_LNE_end_sequence — no special opcodes.
func buildFixtureLine(sequences []lineSequence) []byte {
	const (
		lnsCopy           = 1
		lnsAdvancePC      = 2
		lnsAdvanceLine    = 3
		lnsSetColumn      = 5
		lnsSetPrologueEnd = 10
		lneEndSequence    = 1
		lneSetAddress     = 2
	)

	var prog []byte
	for _, seq := range sequences {
		curAddr := uint32(0)
		curLine := int64(1)

		emitSetAddress := func(addr uint32) {
			prog = append(prog, 0)
			prog = appendUleb128(prog, 5)
			prog = append(prog, lneSetAddress)
			prog = binary.LittleEndian.AppendUint32(prog, addr)
			curAddr = addr
		}
		emitAdvancePC := func(delta uint32) {
			if delta == 0 {
				return
			}
			prog = append(prog, lnsAdvancePC)
			prog = appendUleb128(prog, uint64(delta))
			curAddr += delta
		}
		emitSetColumn := func(col uint64) {
			prog = append(prog, lnsSetColumn)
			prog = appendUleb128(prog, col)
		}
		emitAdvanceLine := func(line int64) {
			if line == curLine {
				return
			}
			prog = append(prog, lnsAdvanceLine)
			prog = appendSleb128(prog, line-curLine)
			curLine = line
		}

		emitSetAddress(seq.rows[0].address)
		for _, row := range seq.rows {
			emitAdvancePC(row.address - curAddr)
			emitSetColumn(row.column)
			emitAdvanceLine(row.line)
			if row.prologueEnd {
				prog = append(prog, lnsSetPrologueEnd)
			}
			prog = append(prog, lnsCopy)
		}
		emitAdvancePC(seq.endAddress - curAddr)
		prog = append(prog, 0)
		prog = appendUleb128(prog, 1)
		prog = append(prog, lneEndSequence)
	}

	opcodeLengths := []byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

	var afterHeaderLength []byte
	afterHeaderLength = append(afterHeaderLength, 1)    // minimum_instruction_length
	afterHeaderLength = append(afterHeaderLength, 1)    // default_is_stmt
	afterHeaderLength = append(afterHeaderLength, 0xFB) // line_base = -5
	afterHeaderLength = append(afterHeaderLength, 14)   // line_range
	afterHeaderLength = append(afterHeaderLength, 13)   // opcode_base
	afterHeaderLength = append(afterHeaderLength, opcodeLengths...)
	afterHeaderLength = append(afterHeaderLength, 0) // include_directories terminator (none beyond comp_dir)
	afterHeaderLength = appendCString(afterHeaderLength, "/work/main.c")
	afterHeaderLength = appendUleb128(afterHeaderLength, 0) // directory index
	afterHeaderLength = appendUleb128(afterHeaderLength, 0) // mtime
	afterHeaderLength = appendUleb128(afterHeaderLength, 0) // length
	afterHeaderLength = append(afterHeaderLength, 0)        // file_names terminator

	headerLength := uint32(len(afterHeaderLength))

	var unitBody []byte
	unitBody = binary.LittleEndian.AppendUint16(unitBody, 3) // version
	unitBody = binary.LittleEndian.AppendUint32(unitBody, headerLength)
	unitBody = append(unitBody, afterHeaderLength...)
	unitBody = append(unitBody, prog...)

	out := binary.LittleEndian.AppendUint32(nil, uint32(len(unitBody)))
	return append(out, unitBody...)
}

// newFixtureInfo builds an Info over a synthetic compile unit covering
// 0x08000100-0x08000140 with two line-program sequences:
//
//   - a "function" at 0x08000100 with a one-row prologue (line 9, col 1)
//     followed by a prologue_end row at 0x08000108 (line 10, col 5),
//     ending at 0x08000110 — exercises breakpoint-by-address prologue
//     skipping.
//   - a "function" at 0x08000120 with a prologue row (line 42, col 1)
//     followed by a prologue_end row at 0x08000124 (line 42, col 5),
//     ending at 0x08000130 — exercises breakpoint-by-source column
//     fallback.
func newFixtureInfo(t *testing.T) *Info {
	t.Helper()

	sequences := []lineSequence{
		{
			rows: []lineRow{
				{address: 0x08000100, line: 9, column: 1},
				{address: 0x08000108, line: 10, column: 5, prologueEnd: true},
			},
			endAddress: 0x08000110,
		},
		{
			rows: []lineRow{
				{address: 0x08000120, line: 42, column: 1},
				{address: 0x08000124, line: 42, column: 5, prologueEnd: true},
			},
			endAddress: 0x08000130,
		},
	}

	abbrev := buildFixtureAbbrev()
	info := buildFixtureInfo(0x08000100, 0x40, 0)
	line := buildFixtureLine(sequences)

	data, err := dwarf.New(abbrev, nil, nil, info, line, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}

	fi := &Info{data: data, unitCache: make(map[dwarf.Offset]*compileUnit)}
	if err := fi.indexCompileUnits(); err != nil {
		t.Fatalf("indexCompileUnits: %v", err)
	}
	return fi
}

func TestBuildSequencesClassifiesPrologueAndHaltLocation(t *testing.T) {
	info := newFixtureInfo(t)
	if len(info.units) != 1 {
		t.Fatalf("units = %d, want 1", len(info.units))
	}

	seqs, err := info.sequencesFor(info.units[0])
	if err != nil {
		t.Fatalf("sequencesFor: %v", err)
	}
	if len(seqs) != 2 {
		t.Fatalf("sequences = %d, want 2", len(seqs))
	}

	first := seqs[0].Locations
	if len(first) != 2 {
		t.Fatalf("first sequence locations = %d, want 2", len(first))
	}
	if first[0].Kind != Prologue {
		t.Errorf("first row kind = %v, want Prologue", first[0].Kind)
	}
	if first[1].Kind != HaltLocation {
		t.Errorf("prologue_end row kind = %v, want HaltLocation", first[1].Kind)
	}
	if first[1].Line != 10 || first[1].Column != 5 {
		t.Errorf("prologue_end row = line %d col %d, want line 10 col 5", first[1].Line, first[1].Column)
	}
}

// TestResolveBreakpointAddressSkipsPrologue exercises the concrete
// scenario of a user-requested breakpoint address landing inside a
// function's prologue: resolution must advance to the first
// HaltLocation at or after it, not the prologue row itself.
func TestResolveBreakpointAddressSkipsPrologue(t *testing.T) {
	info := newFixtureInfo(t)

	loc, err := info.ResolveBreakpointAddress(0x08000104)
	if err != nil {
		t.Fatalf("ResolveBreakpointAddress: %v", err)
	}
	if loc.Address != 0x08000108 || loc.Line != 10 || loc.Column != 5 {
		t.Errorf("resolved = %+v, want address 0x08000108 line 10 col 5", loc)
	}
	if loc.Kind != HaltLocation {
		t.Errorf("resolved kind = %v, want HaltLocation", loc.Kind)
	}
}

func TestResolveBreakpointAddressUnknown(t *testing.T) {
	info := newFixtureInfo(t)

	if _, err := info.ResolveBreakpointAddress(0x09000000); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// TestResolveBreakpointSourceFallsBackToAnyColumn exercises the
// concrete scenario of a source breakpoint request at a column with no
// exact HaltLocation: resolution must fall back to the first
// HaltLocation on that file+line regardless of column.
func TestResolveBreakpointSourceFallsBackToAnyColumn(t *testing.T) {
	info := newFixtureInfo(t)

	loc, err := info.ResolveBreakpointSource("/work/main.c", 42, 9)
	if err != nil {
		t.Fatalf("ResolveBreakpointSource: %v", err)
	}
	if loc.Column != 5 || loc.Address != 0x08000124 {
		t.Errorf("resolved = %+v, want column 5 address 0x08000124", loc)
	}
}

func TestResolveBreakpointSourceExactColumnMatch(t *testing.T) {
	info := newFixtureInfo(t)

	loc, err := info.ResolveBreakpointSource("/work/main.c", 10, 5)
	if err != nil {
		t.Fatalf("ResolveBreakpointSource: %v", err)
	}
	if loc.Address != 0x08000108 {
		t.Errorf("resolved address = %#x, want 0x08000108", loc.Address)
	}
}

func TestResolveBreakpointSourceNoMatch(t *testing.T) {
	info := newFixtureInfo(t)

	if _, err := info.ResolveBreakpointSource("/work/main.c", 999, 0); err != ErrNoBreakpointLocation {
		t.Errorf("err = %v, want ErrNoBreakpointLocation", err)
	}
}
