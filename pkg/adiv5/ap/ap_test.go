package ap

import (
	"testing"

	"github.com/daschewie/probecore/pkg/adiv5/dp"
	"github.com/daschewie/probecore/pkg/adiv5/wire"
)

func attachMock(t *testing.T) (*wire.MockProbe, *dp.DP) {
	t.Helper()
	probe := wire.NewMockProbe(0x6BA02477)
	probe.AddMemoryAP(0, 0x04770001, 8192, true) // CLASS=MemoryAP
	d, err := dp.Attach(probe, wire.TargetSelector{})
	if err != nil {
		t.Fatalf("dp.Attach: %v", err)
	}
	return probe, d
}

func TestScanTerminatesOnZeroIDR(t *testing.T) {
	_, d := attachMock(t)
	aps, err := Scan(d)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(aps) != 1 {
		t.Fatalf("found %d APs, want 1", len(aps))
	}
	if aps[0].Info.Class != ClassMemoryAP {
		t.Errorf("Class = %v, want ClassMemoryAP", aps[0].Info.Class)
	}
}

func TestScanDetects8BitSupportAndRestoresCSW(t *testing.T) {
	probe, d := attachMock(t)
	aps, err := Scan(d)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if !aps[0].Info.Supports8Bit {
		t.Error("Supports8Bit = false, want true (mock AP was created with support8bit=true)")
	}

	// CSW must be restored to its pre-probe value, not left at SIZE=U8.
	raw, err := aps[0].ReadCSW()
	if err != nil {
		t.Fatalf("ReadCSW: %v", err)
	}
	if raw&cswSizeMask == cswSizeU8 {
		t.Error("CSW left at the probe's SIZE=U8 value instead of being restored")
	}

	_ = probe
}

func TestScanNo8BitSupport(t *testing.T) {
	probe := wire.NewMockProbe(0x6BA02477)
	probe.AddMemoryAP(0, 0x04770001, 8192, false)
	d, err := dp.Attach(probe, wire.TargetSelector{})
	if err != nil {
		t.Fatalf("dp.Attach: %v", err)
	}

	aps, err := Scan(d)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if aps[0].Info.Supports8Bit {
		t.Error("Supports8Bit = true, want false for an AP without sub-word support")
	}
}

func TestScanReadsDebugBase(t *testing.T) {
	_, d := attachMock(t)
	aps, err := Scan(d)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if aps[0].Info.DebugBase == 0 {
		t.Error("DebugBase = 0, want the mock AP's configured BASE")
	}
}
