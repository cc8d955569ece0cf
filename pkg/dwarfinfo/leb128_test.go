package dwarfinfo

import (
	"bytes"
	"testing"
)

func TestDecodeULEB128(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}
	for _, c := range cases {
		got, err := decodeULEB128(bytes.NewReader(c.bytes))
		if err != nil {
			t.Fatalf("decodeULEB128(% x): %v", c.bytes, err)
		}
		if got != c.want {
			t.Errorf("decodeULEB128(% x) = %d, want %d", c.bytes, got, c.want)
		}
	}
}

func TestDecodeSLEB128(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x02}, 2},
		{[]byte{0x7e}, -2},
		{[]byte{0xff, 0x00}, 127},
		{[]byte{0x81, 0x7f}, -127},
	}
	for _, c := range cases {
		got, err := decodeSLEB128(bytes.NewReader(c.bytes))
		if err != nil {
			t.Fatalf("decodeSLEB128(% x): %v", c.bytes, err)
		}
		if got != c.want {
			t.Errorf("decodeSLEB128(% x) = %d, want %d", c.bytes, got, c.want)
		}
	}
}
