// Package mem implements the Memory-AP memory interface: aligned and
// sub-word transfers, TAR-wrap block fragmentation, and the sticky-fault
// recovery rule of spec §4.4.
package mem

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/adiv5/ap"
)

// tarWrapSize is the 1024-byte boundary a Memory-AP's TAR auto-increment
// never carries across (spec §3/§8's central invariant).
const tarWrapSize = 1024

// AlignmentError is returned for a misaligned 32/64-bit transfer.
type AlignmentError struct {
	Address uint64
	Width   int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("mem: address %#x is not %d-byte aligned", e.Address, e.Width)
}

// Error wraps the Access-Port-level failure classes from spec §4.4.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("mem: %s: %v", e.Op, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

const (
	cswSizeMask   = 0x7
	cswAddrIncBit = 1 << 4
	cswSizeU8     = 0
	cswSizeU16    = 1
	cswSizeU32    = 2
	cswSizeU64    = 3
)

// Memory is the read/write façade for one Memory-AP.
type Memory struct {
	ap           *ap.AP
	supports8bit bool
}

// New binds a Memory interface to an already-classified Access Port.
func New(a *ap.AP) *Memory {
	return &Memory{ap: a, supports8bit: a.Info.Supports8Bit}
}

// Read32 reads a 4-byte-aligned 32-bit word.
func (m *Memory) Read32(address uint64) (uint32, error) {
	if address%4 != 0 {
		return 0, &AlignmentError{Address: address, Width: 4}
	}
	return m.readWord(address, cswSizeU32)
}

// Write32 writes a 4-byte-aligned 32-bit word.
func (m *Memory) Write32(address uint64, value uint32) error {
	if address%4 != 0 {
		return &AlignmentError{Address: address, Width: 4}
	}
	return m.writeWord(address, value, cswSizeU32)
}

// Read64 reads an 8-byte-aligned 64-bit doubleword as two 32-bit
// transfers (Memory-AP DRW is 32 bits wide regardless of CSW.SIZE=U64,
// which only affects bus-side packing).
func (m *Memory) Read64(address uint64) (uint64, error) {
	if address%8 != 0 {
		return 0, &AlignmentError{Address: address, Width: 8}
	}
	lo, err := m.readWord(address, cswSizeU64)
	if err != nil {
		return 0, err
	}
	hi, err := m.readWord(address+4, cswSizeU64)
	if err != nil {
		return 0, err
	}
	return uint64(hi)<<32 | uint64(lo), nil
}

// Write64 writes an 8-byte-aligned 64-bit doubleword.
func (m *Memory) Write64(address uint64, value uint64) error {
	if address%8 != 0 {
		return &AlignmentError{Address: address, Width: 8}
	}
	if err := m.writeWord(address, uint32(value), cswSizeU64); err != nil {
		return err
	}
	return m.writeWord(address+4, uint32(value>>32), cswSizeU64)
}

// Read8 reads a single byte at any alignment. On an AP without sub-word
// support this performs a read-modify-write-free read: read the
// surrounding aligned word and mask out the byte. On an AP with
// sub-word support, SIZE=U8 is issued directly and the byte is taken
// from DRW's bit_offset = (address & 3) * 8 lane (spec §4.4).
func (m *Memory) Read8(address uint64) (byte, error) {
	if m.supports8bit {
		word, err := m.readWord(address, cswSizeU8)
		if err != nil {
			return 0, err
		}
		lane := (address & 3) * 8
		return byte(word >> lane), nil
	}

	aligned := address &^ 3
	word, err := m.readWord(aligned, cswSizeU32)
	if err != nil {
		return 0, err
	}
	lane := (address & 3) * 8
	return byte(word >> lane), nil
}

// Write8 writes a single byte at any alignment. Without sub-word
// support, this is a read-modify-write of the surrounding word: read
// aligned word, mask and insert the byte, write back (spec §4.4).
func (m *Memory) Write8(address uint64, value byte) error {
	if m.supports8bit {
		lane := (address & 3) * 8
		return m.writeWord(address, uint32(value)<<lane, cswSizeU8)
	}

	aligned := address &^ 3
	word, err := m.readWord(aligned, cswSizeU32)
	if err != nil {
		return err
	}
	lane := (address & 3) * 8
	word = (word &^ (0xFF << lane)) | (uint32(value) << lane)
	return m.writeWord(aligned, word, cswSizeU32)
}

// Read16 reads a 16-bit halfword at any alignment, following the same
// rule as Read8 with a 2-byte lane.
func (m *Memory) Read16(address uint64) (uint16, error) {
	if m.supports8bit {
		word, err := m.readWord(address, cswSizeU16)
		if err != nil {
			return 0, err
		}
		lane := (address & 2) * 8
		return uint16(word >> lane), nil
	}

	aligned := address &^ 3
	word, err := m.readWord(aligned, cswSizeU32)
	if err != nil {
		return 0, err
	}
	lane := (address & 2) * 8
	return uint16(word >> lane), nil
}

// Write16 writes a 16-bit halfword at any alignment.
func (m *Memory) Write16(address uint64, value uint16) error {
	if m.supports8bit {
		lane := (address & 2) * 8
		return m.writeWord(address, uint32(value)<<lane, cswSizeU16)
	}

	aligned := address &^ 3
	word, err := m.readWord(aligned, cswSizeU32)
	if err != nil {
		return err
	}
	lane := (address & 2) * 8
	word = (word &^ (0xFFFF << lane)) | (uint32(value) << lane)
	return m.writeWord(aligned, word, cswSizeU32)
}

// ReadBlock32 reads n consecutive 32-bit words starting at a 4-byte
// aligned address, fragmenting at every 1024-byte TAR-wrap boundary
// (spec §4.4's "principal performance mechanism").
func (m *Memory) ReadBlock32(address uint64, n int) ([]uint32, error) {
	if address%4 != 0 {
		return nil, &AlignmentError{Address: address, Width: 4}
	}

	out := make([]uint32, 0, n)
	remaining := n
	addr := address
	for remaining > 0 {
		count := wordsUntilWrap(addr, 4, remaining)
		words, err := m.readFragment(addr, count, cswSizeU32)
		if err != nil {
			return nil, err
		}
		out = append(out, words...)
		addr += uint64(count) * 4
		remaining -= count
	}
	return out, nil
}

// WriteBlock32 writes data as consecutive 32-bit words, fragmenting at
// every 1024-byte TAR-wrap boundary.
func (m *Memory) WriteBlock32(address uint64, data []uint32) error {
	if address%4 != 0 {
		return &AlignmentError{Address: address, Width: 4}
	}

	addr := address
	offset := 0
	for offset < len(data) {
		count := wordsUntilWrap(addr, 4, len(data)-offset)
		if err := m.writeFragment(addr, data[offset:offset+count], cswSizeU32); err != nil {
			return err
		}
		addr += uint64(count) * 4
		offset += count
	}
	return nil
}

// wordsUntilWrap returns how many words of wordSize can be transferred
// from addr before crossing the next 1024-byte TAR-wrap boundary,
// capped at remaining.
func wordsUntilWrap(addr uint64, wordSize int, remaining int) int {
	bytesLeft := tarWrapSize - int(addr%tarWrapSize)
	words := bytesLeft / wordSize
	if words == 0 {
		words = 1
	}
	if words > remaining {
		words = remaining
	}
	return words
}

func (m *Memory) readWord(address uint64, size uint32) (uint32, error) {
	return retryOncePoweredUp(m, "read", func() (uint32, error) {
		if err := m.setupTransfer(address, size, false); err != nil {
			return 0, err
		}
		return m.retryingReadDRW()
	})
}

func (m *Memory) writeWord(address uint64, value uint32, size uint32) error {
	_, err := retryOncePoweredUp(m, "write", func() (struct{}, error) {
		if err := m.setupTransfer(address, size, false); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, m.retryingWriteDRW(value)
	})
	return err
}

func (m *Memory) readFragment(address uint64, count int, size uint32) ([]uint32, error) {
	return retryOncePoweredUp(m, "read block", func() ([]uint32, error) {
		if err := m.setupTransfer(address, size, true); err != nil {
			return nil, err
		}
		return m.ap.ReadBlockDRW(count)
	})
}

func (m *Memory) writeFragment(address uint64, data []uint32, size uint32) error {
	_, err := retryOncePoweredUp(m, "write block", func() (struct{}, error) {
		if err := m.setupTransfer(address, size, true); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, m.ap.WriteBlockDRW(data)
	})
	return err
}

// setupTransfer composes CSW fresh for every transfer (spec §4.4: never
// rely on stale device CSW) and writes TAR.
func (m *Memory) setupTransfer(address uint64, size uint32, autoIncrement bool) error {
	csw := size & cswSizeMask
	if autoIncrement {
		csw |= cswAddrIncBit
	}
	if err := m.ap.WriteCSW(csw); err != nil {
		return &Error{Op: "compose CSW", Cause: err}
	}
	if err := m.ap.WriteTAR(address); err != nil {
		return &Error{Op: "write TAR", Cause: err}
	}
	return nil
}

func (m *Memory) retryingReadDRW() (uint32, error) { return m.ap.ReadDRW() }
func (m *Memory) retryingWriteDRW(v uint32) error  { return m.ap.WriteDRW(v) }

// retryOncePoweredUp implements spec §4.4's "memory transactions on a
// powered-down AP surface as a fault that clears sticky flags and
// retries the power-up handshake once." The dp layer already clears
// sticky flags on every fault as part of its typed register access
// (spec §4.2); this adds the one power-up-handshake retry the fault
// itself doesn't get for free: re-run the DP's power-up sequence once,
// then replay fn exactly once more before giving up.
func retryOncePoweredUp[T any](m *Memory, op string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}

	if puErr := m.ap.PowerUp(); puErr != nil {
		var zero T
		return zero, &Error{Op: op, Cause: err}
	}

	v, err = fn()
	if err != nil {
		var zero T
		return zero, &Error{Op: op, Cause: err}
	}
	return v, nil
}
