package mem

import (
	"testing"

	"github.com/daschewie/probecore/pkg/adiv5/ap"
	"github.com/daschewie/probecore/pkg/adiv5/dp"
	"github.com/daschewie/probecore/pkg/adiv5/wire"
)

func setup(t *testing.T, support8bit bool) (*wire.MockProbe, *Memory) {
	t.Helper()
	probe := wire.NewMockProbe(0x6BA02477)
	probe.AddMemoryAP(0, 0x04770001, 4096, support8bit)

	d, err := dp.Attach(probe, wire.TargetSelector{})
	if err != nil {
		t.Fatalf("dp.Attach: %v", err)
	}
	aps, err := ap.Scan(d)
	if err != nil {
		t.Fatalf("ap.Scan: %v", err)
	}
	if len(aps) != 1 {
		t.Fatalf("found %d APs, want 1", len(aps))
	}
	return probe, New(aps[0])
}

func TestWrite32ThenRead32(t *testing.T) {
	_, m := setup(t, true)
	if err := m.Write32(0x20000000, 0xCAFEF00D); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	got, err := m.Read32(0x20000000)
	if err != nil {
		t.Fatalf("Read32: %v", err)
	}
	if got != 0xCAFEF00D {
		t.Errorf("Read32 = %#x, want %#x", got, 0xCAFEF00D)
	}
}

func TestWrite32RejectsMisalignment(t *testing.T) {
	_, m := setup(t, true)
	err := m.Write32(0x20000001, 0)
	if _, ok := err.(*AlignmentError); !ok {
		t.Fatalf("err = %v (%T), want *AlignmentError", err, err)
	}
}

func TestWrite8WithSubWordSupport(t *testing.T) {
	probe, m := setup(t, true)
	if err := m.Write8(0x20000001, 0xAB); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	mem := probe.Memory(0)
	if mem[1] != 0xAB {
		t.Errorf("memory[1] = %#x, want 0xab", mem[1])
	}
	if mem[0] != 0 || mem[2] != 0 {
		t.Errorf("adjacent bytes modified: % x", mem[:4])
	}
}

func TestWrite8WithoutSubWordSupportPreservesNeighbors(t *testing.T) {
	probe, m := setup(t, false)
	if err := m.Write32(0x20000000, 0x11223344); err != nil {
		t.Fatalf("Write32 seed: %v", err)
	}
	if err := m.Write8(0x20000001, 0xFF); err != nil {
		t.Fatalf("Write8: %v", err)
	}

	mem := probe.Memory(0)
	if mem[1] != 0xFF {
		t.Errorf("modified byte = %#x, want 0xff", mem[1])
	}
	if mem[0] != 0x44 || mem[2] != 0x22 || mem[3] != 0x11 {
		t.Errorf("read-modify-write corrupted neighbors: % x", mem[:4])
	}
}

func TestRead8AtAnyAlignment(t *testing.T) {
	_, m := setup(t, false)
	if err := m.Write32(0x20000000, 0xDDCCBBAA); err != nil {
		t.Fatalf("Write32: %v", err)
	}
	for lane, want := range map[uint64]byte{0: 0xAA, 1: 0xBB, 2: 0xCC, 3: 0xDD} {
		got, err := m.Read8(0x20000000 + lane)
		if err != nil {
			t.Fatalf("Read8(%d): %v", lane, err)
		}
		if got != want {
			t.Errorf("Read8(%d) = %#x, want %#x", lane, got, want)
		}
	}
}

func TestReadBlock32FragmentsAtTARWrap(t *testing.T) {
	_, m := setup(t, true)

	data := make([]uint32, 512) // 2048 bytes, crosses two 1KiB windows
	for i := range data {
		data[i] = uint32(i + 1)
	}
	if err := m.WriteBlock32(0x20000000, data); err != nil {
		t.Fatalf("WriteBlock32: %v", err)
	}

	got, err := m.ReadBlock32(0x20000000, 512)
	if err != nil {
		t.Fatalf("ReadBlock32: %v", err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("word %d = %#x, want %#x (TAR-wrap fragmentation must preserve addressing)", i, got[i], data[i])
		}
	}
}

func TestWordsUntilWrapCapsAtBoundary(t *testing.T) {
	got := wordsUntilWrap(0x20000FF8, 4, 100)
	if got != 2 { // 8 bytes left in the window / 4 = 2 words
		t.Errorf("wordsUntilWrap = %d, want 2", got)
	}
}
