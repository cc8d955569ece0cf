package dwarfinfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// cie is a Common Information Entry: shared prologue state for every
// FDE that references it. Fields and parsing grounded in
// frameSectionCIE/newFrameSection in
// other_examples/a4101a65_JetSetIlly-Gopher2600__coprocessor-developer-dwarf-dwarf_frame.go.go,
// which targets the same DWARF-4 .debug_frame layout.
type cie struct {
	version          byte
	codeAlignment    uint64
	dataAlignment    int64
	returnAddressReg uint64
	instructions     []byte
}

// fde is a Frame Description Entry: the address range one CIE's rules
// apply to, plus its own instructions layered on top.
type fde struct {
	cie          *cie
	startAddress uint64
	endAddress   uint64
	instructions []byte
}

func (f *fde) covers(addr uint64) bool { return addr >= f.startAddress && addr < f.endAddress }

// frameSection holds the parsed .debug_frame (or .eh_frame) call frame
// information for one ELF image.
type frameSection struct {
	cies      map[uint64]*cie
	fdes      []*fde
	byteOrder binary.ByteOrder
}

func newFrameSectionFromELF(ef *elf.File) (*frameSection, error) {
	sec := ef.Section(".debug_frame")
	if sec == nil {
		return &frameSection{cies: map[uint64]*cie{}}, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("dwarfinfo: read .debug_frame: %w", err)
	}
	return newFrameSection(data, ef.ByteOrder)
}

// newFrameSection parses a raw .debug_frame section into CIEs and FDEs,
// following the same length-prefixed block walk as newFrameSection in
// the Gopher2600 reference (only DWARF-2-style CIE version 1 is
// supported there; this resolver additionally accepts version 3, which
// only widens the return-address-register field to LEB128, a format the
// same decoder already handles, and version 4, whose address_size and
// segment_selector_size bytes are skipped).
func newFrameSection(data []byte, byteOrder binary.ByteOrder) (*frameSection, error) {
	fs := &frameSection{cies: map[uint64]*cie{}, byteOrder: byteOrder}

	idx := 0
	for idx < len(data) {
		if idx+4 > len(data) {
			break
		}
		length := int(byteOrder.Uint32(data[idx:]))
		idx += 4
		if length == 0 || idx+length > len(data) {
			break
		}
		block := data[idx : idx+length]
		idx += length

		if len(block) < 4 {
			return nil, errors.New("dwarfinfo: truncated CIE/FDE block")
		}
		id := byteOrder.Uint32(block)
		n := 4

		if id == 0xffffffff {
			c := &cie{}
			c.version = block[n]
			n++

			// Only the no-augmentation case is supported, matching the
			// Gopher2600 reference's restriction.
			if block[n] != 0x00 {
				return nil, fmt.Errorf("dwarfinfo: CIE augmentation string not supported")
			}
			n++

			// Version 4 places address_size and segment_selector_size
			// ahead of the alignment factors.
			if c.version >= 4 {
				n += 2
			}

			r := bytes.NewReader(block[n:])
			ca, err := decodeULEB128(r)
			if err != nil {
				return nil, err
			}
			da, err := decodeSLEB128(r)
			if err != nil {
				return nil, err
			}
			ra, err := decodeULEB128(r)
			if err != nil {
				return nil, err
			}
			consumed := len(block[n:]) - r.Len()
			n += consumed

			c.codeAlignment = ca
			c.dataAlignment = da
			c.returnAddressReg = ra
			c.instructions = append([]byte(nil), block[n:]...)

			cieID := uint64(idx - length - 4)
			fs.cies[cieID] = c
		} else {
			f := &fde{}
			parentCIE, ok := fs.cies[uint64(id)]
			if !ok {
				return nil, errors.New("dwarfinfo: FDE refers to unknown CIE")
			}
			f.cie = parentCIE

			f.startAddress = uint64(byteOrder.Uint32(block[n:]))
			n += 4
			f.endAddress = f.startAddress + uint64(byteOrder.Uint32(block[n:]))
			n += 4
			f.instructions = append([]byte(nil), block[n:]...)

			fs.fdes = append(fs.fdes, f)
		}
	}

	return fs, nil
}

func (fs *frameSection) fdeForAddress(addr uint64) (*fde, bool) {
	for _, f := range fs.fdes {
		if f.covers(addr) {
			return f, true
		}
	}
	return nil, false
}
