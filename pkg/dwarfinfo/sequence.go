package dwarfinfo

import (
	"debug/dwarf"
	"io"
)

// Kind classifies one InstructionLocation (spec.md §4.6.1).
type Kind int

const (
	Prologue Kind = iota
	HaltLocation
	Unspecified
)

func (k Kind) String() string {
	switch k {
	case Prologue:
		return "Prologue"
	case HaltLocation:
		return "HaltLocation"
	default:
		return "Unspecified"
	}
}

// InstructionLocation is one row of a compilation unit's line program,
// classified per spec.md §4.6.1.
type InstructionLocation struct {
	Address uint64
	File    string
	Line    int
	Column  int
	IsStmt  bool
	Kind    Kind
}

// InstructionSequence is one contiguous run of instructions terminated
// by a DWARF end_sequence row, matching one dwarf.LineReader
// LineSequence.
type InstructionSequence struct {
	Locations []InstructionLocation
}

// FirstHaltAtOrAfter returns the first HaltLocation in the sequence
// whose address is >= addr, used by breakpoint-by-address resolution
// (spec.md §4.6.2).
func (s *InstructionSequence) FirstHaltAtOrAfter(addr uint64) (InstructionLocation, bool) {
	for _, loc := range s.Locations {
		if loc.Kind == HaltLocation && loc.Address >= addr {
			return loc, true
		}
	}
	return InstructionLocation{}, false
}

func (s *InstructionSequence) contains(addr uint64) bool {
	if len(s.Locations) == 0 {
		return false
	}
	return addr >= s.Locations[0].Address && addr <= s.Locations[len(s.Locations)-1].Address
}

// GNU-C language codes (DWARF 5 Table 7.17) for which compilers are
// known to omit the explicit prologue_end flag.
const (
	langC99 int64 = 0x0c
	langC11 int64 = 0x1d
	langC17 int64 = 0x2d
)

func isGNUCHeuristicLanguage(language int64) bool {
	return language == langC99 || language == langC11 || language == langC17
}

// buildSequences walks cu's line-number program row by row, emitting
// one InstructionSequence per DWARF line sequence and classifying each
// row as Prologue, HaltLocation, or Unspecified (spec.md §4.6.1).
// Grounded in readSourceLines's dwarf.LineReader walk in
// other_examples/39cd7862_JetSetIlly-Gopher2600__coprocessor-developer-source.go.go,
// generalized from building a source-line cross-reference to
// classifying breakpointable instruction locations.
func buildSequences(data *dwarf.Data, cu *compileUnit) ([]*InstructionSequence, error) {
	r, err := data.LineReader(cu.entry)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}

	useGNUHeuristic := isGNUCHeuristicLanguage(cu.language)

	var sequences []*InstructionSequence
	cur := &InstructionSequence{}
	inPrologue := true
	var prevEntry *dwarf.LineEntry
	var prevLine int
	var prevFile string
	havePrev := false

	var le dwarf.LineEntry
	for {
		if err := r.Next(&le); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		if le.EndSequence {
			if len(cur.Locations) > 0 {
				// GNU-C heuristic's "or the sequence ended" clause: a
				// sequence that never left the prologue (a one-line
				// function) still needs a breakpointable location.
				if inPrologue && useGNUHeuristic {
					last := &cur.Locations[len(cur.Locations)-1]
					if last.IsStmt {
						last.Kind = HaltLocation
					}
				}
				sequences = append(sequences, cur)
			}
			cur = &InstructionSequence{}
			inPrologue = true
			havePrev = false
			continue
		}

		line := le.Line
		fileName := ""
		if le.File != nil {
			fileName = le.File.Name
		}
		column := le.Column

		// Line-0 inheritance: a spurious "line 0" row inherits the
		// previous row's line when file and column agree.
		if line == 0 && havePrev && fileName == prevFile && column == prevEntry.Column && prevLine != 0 {
			line = prevLine
		}

		if inPrologue {
			explicitEnd := le.PrologueEnd
			gnuEnd := useGNUHeuristic && havePrev && le.IsStmt && fileName == prevFile && (line != prevLine)
			if explicitEnd || gnuEnd {
				inPrologue = false
			}
		}

		var kind Kind
		switch {
		case inPrologue:
			kind = Prologue
		case le.IsStmt || le.EpilogueBegin:
			kind = HaltLocation
		default:
			kind = Unspecified
		}

		cur.Locations = append(cur.Locations, InstructionLocation{
			Address: le.Address,
			File:    fileName,
			Line:    line,
			Column:  column,
			IsStmt:  le.IsStmt,
			Kind:    kind,
		})

		entryCopy := le
		prevEntry = &entryCopy
		prevLine = line
		prevFile = fileName
		havePrev = true
	}

	if len(cur.Locations) > 0 {
		sequences = append(sequences, cur)
	}
	return sequences, nil
}
