package arch

import "testing"

func TestCortexMSetPCSetsThumbBit(t *testing.T) {
	w := CortexM{}.SetPC(0x20000100)
	if w.Value != 0x20000101 {
		t.Errorf("PC = %#x, want Thumb bit set (%#x)", w.Value, 0x20000101)
	}
}

func TestRISCVSetPCLeavesAddressUnchanged(t *testing.T) {
	w := RISCV{}.SetPC(0x80000100)
	if w.Value != 0x80000100 {
		t.Errorf("PC = %#x, want unchanged address", w.Value)
	}
}

func TestArgRegistersCoverFourSlots(t *testing.T) {
	abi := CortexM{}
	want := []Register{RegArg0, RegArg1, RegArg2, RegArg3}
	for n, reg := range want {
		w := abi.SetArg(n, uint64(n))
		if w.Register != reg {
			t.Errorf("SetArg(%d).Register = %v, want %v", n, w.Register, reg)
		}
		if w.Value != uint64(n) {
			t.Errorf("SetArg(%d).Value = %d, want %d", n, w.Value, n)
		}
	}
}

func TestReturnTrapCarriesLoadAddress(t *testing.T) {
	cm := CortexM{}.SetReturnTrap(0x20000000)
	if cm.Register != RegLR || cm.Value != 0x20000001 {
		t.Errorf("CortexM SetReturnTrap = %+v, want LR=0x20000001", cm)
	}

	rv := RISCV{}.SetReturnTrap(0x80000000)
	if rv.Register != RegLR || rv.Value != 0x80000000 {
		t.Errorf("RISCV SetReturnTrap = %+v, want LR=0x80000000", rv)
	}
}
