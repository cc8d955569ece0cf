package dwarfinfo

import "bytes"

const (
	lebExtensionBit = 0x80
	lebValueBits    = 0xff ^ lebExtensionBit
)

// decodeULEB128 reads an unsigned LEB128 value, matching
// parseUnsignedLEB128 in
// other_examples/8de50349_ConradIrwin-go-dwarf__loclist.go.go.
func decodeULEB128(stream *bytes.Reader) (uint64, error) {
	var n uint64
	var shift uint
	for {
		b, err := stream.ReadByte()
		if err != nil {
			return 0, err
		}
		n |= uint64(b&lebValueBits) << shift
		shift += 7
		if b&lebExtensionBit == 0 {
			break
		}
	}
	return n, nil
}

// decodeSLEB128 reads a signed LEB128 value, matching
// parseSignedLEB128 in the same reference.
func decodeSLEB128(stream *bytes.Reader) (int64, error) {
	var n uint64
	var shift uint
	var b byte
	var err error
	for {
		b, err = stream.ReadByte()
		if err != nil {
			return 0, err
		}
		n |= uint64(b&lebValueBits) << shift
		shift += 7
		if b&lebExtensionBit == 0 {
			break
		}
	}
	m := int64(n)
	if shift < 64 && n&(1<<(shift-1)) != 0 {
		m = int64(n) - int64(1<<shift)
	}
	return m, nil
}
