package wire

import "testing"

func TestPortTypeString(t *testing.T) {
	cases := []struct {
		port PortType
		want string
	}{
		{DebugPort, "DP"},
		{AccessPort, "AP"},
	}
	for _, c := range cases {
		if got := c.port.String(); got != c.want {
			t.Errorf("PortType(%d).String() = %q, want %q", c.port, got, c.want)
		}
	}
}

func TestErrorKindString(t *testing.T) {
	if got := ErrWait.String(); got != "wait" {
		t.Errorf("ErrWait.String() = %q, want %q", got, "wait")
	}
}

func TestCalculateLRC(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	got := calculateLRC(data)
	want := byte(0x01 ^ 0x02 ^ 0x03)
	if got != want {
		t.Errorf("calculateLRC(%v) = %#x, want %#x", data, got, want)
	}
}

func TestBuildRequestRoundTrip(t *testing.T) {
	req := buildRequest(opRegWrite, AccessPort, 0x0C, 1, []uint32{0xDEADBEEF})
	if req[0] != requestSyncByte {
		t.Fatalf("request missing sync byte: %#x", req[0])
	}
	if req[1] != opRegWrite {
		t.Errorf("op = %#x, want opRegWrite", req[1])
	}
	if req[2] != byte(AccessPort) {
		t.Errorf("port = %#x, want AccessPort", req[2])
	}
	if req[3] != 0x0C {
		t.Errorf("addr2 = %#x, want 0x0C", req[3])
	}

	lrc := req[len(req)-1]
	if calculateLRC(req[:len(req)-1]) != lrc {
		t.Error("trailing LRC does not match body")
	}
}

func TestMockProbeDPReadWrite(t *testing.T) {
	probe := NewMockProbe(0x6BA02477)

	got, err := probe.RawReadRegister(DebugPort, 0x0)
	if err != nil {
		t.Fatalf("read DPIDR: %v", err)
	}
	if got != 0x6BA02477 {
		t.Errorf("DPIDR = %#x, want %#x", got, 0x6BA02477)
	}

	if err := probe.RawWriteRegister(DebugPort, 0x8, 0x01000000); err != nil {
		t.Fatalf("write SELECT: %v", err)
	}
	got, err = probe.RawReadRegister(DebugPort, 0x8)
	if err != nil {
		t.Fatalf("read SELECT: %v", err)
	}
	if got != 0x01000000 {
		t.Errorf("SELECT = %#x, want %#x", got, 0x01000000)
	}
}

func TestMockProbePowerUpHandshake(t *testing.T) {
	probe := NewMockProbe(0x6BA02477)

	const req = (1 << 28) | (1 << 30) // CDBGPWRUPREQ | CSYSPWRUPREQ
	if err := probe.RawWriteRegister(DebugPort, 0x4, req); err != nil {
		t.Fatalf("write CTRL/STAT: %v", err)
	}
	got, err := probe.RawReadRegister(DebugPort, 0x4)
	if err != nil {
		t.Fatalf("read CTRL/STAT: %v", err)
	}
	const wantAcks = (1 << 31) | (1 << 29) // CSYSPWRUPACK | CDBGPWRUPACK
	if got&wantAcks != wantAcks {
		t.Errorf("CTRL/STAT = %#x, missing power-up acks %#x", got, wantAcks)
	}
}

func TestMockProbeMemoryAPReadWriteWord(t *testing.T) {
	probe := NewMockProbe(0x6BA02477)
	probe.AddMemoryAP(0, 0x24770011, 4096, true)

	selectAP(t, probe, 0, 0x0)
	if err := probe.RawWriteRegister(AccessPort, 0x4, 0x20000000); err != nil { // TAR
		t.Fatalf("write TAR: %v", err)
	}
	if err := probe.RawWriteRegister(AccessPort, 0x0C, 0x12345678); err != nil { // DRW
		t.Fatalf("write DRW: %v", err)
	}

	mem := probe.Memory(0)
	if mem[0] != 0x78 || mem[1] != 0x56 || mem[2] != 0x34 || mem[3] != 0x12 {
		t.Errorf("memory at 0 = % x, want little-endian 0x12345678", mem[:4])
	}
}

func TestMockProbeTARWrapsAtOneKiB(t *testing.T) {
	probe := NewMockProbe(0x6BA02477)
	ap := probe.AddMemoryAP(0, 0x24770011, 4096, true)
	ap.csw = 0x00000012 // SIZE=U32, AddrInc=Increment

	selectAP(t, probe, 0, 0x0)
	if err := probe.RawWriteRegister(AccessPort, 0x4, 0x200003FC); err != nil { // last word in window
		t.Fatalf("write TAR: %v", err)
	}
	if err := probe.RawWriteRegister(AccessPort, 0x0C, 1); err != nil {
		t.Fatalf("write DRW: %v", err)
	}

	got, err := probe.RawReadRegister(AccessPort, 0x4)
	if err != nil {
		t.Fatalf("read TAR: %v", err)
	}
	// low 10 bits must have wrapped to 0 rather than carrying into 0x20000400
	if got != 0x20000000 {
		t.Errorf("TAR after wrap = %#x, want %#x (carry must not propagate)", got, 0x20000000)
	}
}

func TestMockProbeSubWordReadWritesByteLane(t *testing.T) {
	probe := NewMockProbe(0x6BA02477)
	ap := probe.AddMemoryAP(0, 0x24770011, 4096, true)
	ap.csw = 0x00000040 // SIZE=U8

	selectAP(t, probe, 0, 0x0)
	if err := probe.RawWriteRegister(AccessPort, 0x4, 0x20000001); err != nil {
		t.Fatalf("write TAR: %v", err)
	}
	if err := probe.RawWriteRegister(AccessPort, 0x0C, 0x0000AB00); err != nil { // byte in lane (addr&3)*8
		t.Fatalf("write DRW: %v", err)
	}

	mem := probe.Memory(0)
	if mem[1] != 0xAB {
		t.Errorf("byte at offset 1 = %#x, want 0xab", mem[1])
	}
	if mem[0] != 0 || mem[2] != 0 {
		t.Errorf("adjacent bytes corrupted: % x", mem[:4])
	}
}

func TestMockProbeInjectedWaitThenFault(t *testing.T) {
	probe := NewMockProbe(0x6BA02477)
	probe.InjectWaitCount = 2

	if _, err := probe.RawReadRegister(DebugPort, 0x0); err == nil {
		t.Fatal("expected ErrWait on first attempt")
	} else if kindOf(t, err) != ErrWait {
		t.Errorf("kind = %v, want ErrWait", kindOf(t, err))
	}

	probe.InjectFaultOnNextAccess = true
	// drain the remaining injected wait first
	if _, err := probe.RawReadRegister(DebugPort, 0x0); err == nil {
		t.Fatal("expected ErrWait on second attempt")
	}
	if _, err := probe.RawReadRegister(DebugPort, 0x0); err == nil {
		t.Fatal("expected ErrFault")
	} else if kindOf(t, err) != ErrFault {
		t.Errorf("kind = %v, want ErrFault", kindOf(t, err))
	}

	// fault is sticky until ABORT (DP addr 0x0) is written
	if _, err := probe.RawReadRegister(DebugPort, 0x4); err == nil {
		t.Fatal("expected sticky ErrFault to persist")
	}
	if err := probe.RawWriteRegister(DebugPort, 0x0, 0x1E); err != nil {
		t.Fatalf("write ABORT: %v", err)
	}
	if _, err := probe.RawReadRegister(DebugPort, 0x4); err != nil {
		t.Fatalf("expected fault cleared after ABORT, got %v", err)
	}
}

func selectAP(t *testing.T, probe *MockProbe, apIdx uint8, bank uint8) {
	t.Helper()
	sel := uint32(apIdx)<<24 | uint32(bank)<<4
	if err := probe.RawWriteRegister(DebugPort, 0x8, sel); err != nil {
		t.Fatalf("write SELECT: %v", err)
	}
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	we, ok := err.(*Error)
	if !ok {
		t.Fatalf("error %v is not *wire.Error", err)
	}
	return we.Kind
}
