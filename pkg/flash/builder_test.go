package flash

import "testing"

func testAlgorithm() *Algorithm {
	return &Algorithm{
		LoadAddress: 0x20000000,
		EntryPoints: map[string]uint64{
			"pc_init":          0x20000021,
			"pc_uninit":        0x20000031,
			"pc_program_page":  0x20000041,
			"pc_erase_sector":  0x20000051,
			"pc_erase_all":     0x20000061,
		},
		StaticBase: 0x20000200,
		BeginStack: 0x20001000,
		BeginData:  0x20000800,
		FlashProperties: FlashProperties{
			PageSize:        256,
			SectorSize:      1024,
			ErasedByteValue: 0xFF,
		},
	}
}

func TestBuildSinglePageInOneSector(t *testing.T) {
	b := NewBuilder(testAlgorithm())
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	if err := b.AddData(0x08000010, data); err != nil {
		t.Fatalf("AddData: %v", err)
	}

	sectors, err := b.Build(false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sectors) != 1 {
		t.Fatalf("len(sectors) = %d, want 1", len(sectors))
	}
	if sectors[0].Address != 0x08000000 {
		t.Errorf("sector address = %#x, want %#x", sectors[0].Address, 0x08000000)
	}
	if len(sectors[0].Pages) != 4 { // 1024 / 256
		t.Fatalf("len(pages) = %d, want 4", len(sectors[0].Pages))
	}

	page := sectors[0].Pages[0]
	if page.Data[0x10] != 0 || page.Data[0x11] != 1 {
		t.Errorf("page data at region start = % x, want 00 01 ...", page.Data[0x10:0x13])
	}
	if page.Data[0] != 0xFF {
		t.Errorf("untouched byte = %#x, want erased value 0xff", page.Data[0])
	}
}

func TestBuildSpansMultipleSectors(t *testing.T) {
	b := NewBuilder(testAlgorithm())
	data := make([]byte, 2000) // crosses two 1024-byte sectors
	if err := b.AddData(0x08000000, data); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	sectors, err := b.Build(false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sectors) != 2 {
		t.Fatalf("len(sectors) = %d, want 2", len(sectors))
	}
	if sectors[1].Address != 0x08000400 {
		t.Errorf("second sector address = %#x, want %#x", sectors[1].Address, 0x08000400)
	}
}

func TestBuildRejectsConflictingOverlap(t *testing.T) {
	b := NewBuilder(testAlgorithm())
	if err := b.AddData(0x08000000, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if err := b.AddData(0x08000001, []byte{0xFF, 0xFF}); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if _, err := b.Build(false); err == nil {
		t.Fatal("expected conflicting overlap error")
	}
}

func TestBuildAcceptsIdenticalOverlap(t *testing.T) {
	b := NewBuilder(testAlgorithm())
	if err := b.AddData(0x08000000, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if err := b.AddData(0x08000001, []byte{0x02, 0x03, 0x04}); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	sectors, err := b.Build(false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sectors[0].Pages[0].Data[3] != 0x04 {
		t.Errorf("merged byte at offset 3 = %#x, want 0x04", sectors[0].Pages[0].Data[3])
	}
}

func TestBuildComputesFillComplement(t *testing.T) {
	b := NewBuilder(testAlgorithm())
	// touches bytes [16, 20) of the sector, leaving the rest as fill gaps
	if err := b.AddData(0x08000010, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	sectors, err := b.Build(true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sectors[0].Fills) != 2 {
		t.Fatalf("len(fills) = %d, want 2 (before and after the touched range)", len(sectors[0].Fills))
	}
	if sectors[0].Fills[0].Address != 0x08000000 || sectors[0].Fills[0].Length != 0x10 {
		t.Errorf("first fill = %+v, want address 0x08000000 length 0x10", sectors[0].Fills[0])
	}
	wantSecondLen := uint32(1024 - 0x14)
	if sectors[0].Fills[1].Address != 0x08000014 || sectors[0].Fills[1].Length != wantSecondLen {
		t.Errorf("second fill = %+v, want address 0x08000014 length %#x", sectors[0].Fills[1], wantSecondLen)
	}
}

func TestBuildEmptyWithoutRestoreHasNoFills(t *testing.T) {
	b := NewBuilder(testAlgorithm())
	if err := b.AddData(0x08000010, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	sectors, err := b.Build(false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(sectors[0].Fills) != 0 {
		t.Errorf("len(fills) = %d, want 0 when restoreUnwrittenBytes is false", len(sectors[0].Fills))
	}
}
