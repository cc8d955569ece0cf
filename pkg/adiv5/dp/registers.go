package dp

import "github.com/daschewie/probecore/pkg/adiv5/wire"

// Version is the DP architecture version reported in DPIDR[15:12].
type Version int

const (
	DPv0 Version = iota
	DPv1
	DPv2
	DPv3
	Unsupported
)

func versionFromDPIDR(raw uint32) Version {
	switch (raw >> 12) & 0xF {
	case 0:
		return DPv0
	case 1:
		return DPv1
	case 2:
		return DPv2
	case 3:
		return DPv3
	default:
		return Unsupported
	}
}

// register is implemented by every typed DP register's pointer type. It
// is never implemented directly by a caller; callers only name the
// value type as the generic parameter to ReadRegister/WriteRegister.
type register interface {
	address() (port wire.PortType, bank uint8, addr2 uint8)
	encode() uint32
	decode(raw uint32)
}

// registerPtr is the Go-generics "pointer method set" constraint: T is
// the concrete register struct, *T must implement register. This lets
// ReadRegister/WriteRegister be generic over register VALUES while the
// decode/encode methods live on pointer receivers.
type registerPtr[T any] interface {
	*T
	register
}

// DPIDR identifies the debug port version, designer, and part number.
// Read-only, unbanked, at DP address 0x0.
type DPIDR struct {
	Raw      uint32
	Version  Version
	MinDP    bool
	Designer uint16
	PartNo   uint8
}

func (r *DPIDR) address() (wire.PortType, uint8, uint8) { return wire.DebugPort, 0, 0x0 }
func (r *DPIDR) encode() uint32                         { return r.Raw }
func (r *DPIDR) decode(raw uint32) {
	r.Raw = raw
	r.Version = versionFromDPIDR(raw)
	r.MinDP = raw&(1<<16) != 0
	r.Designer = uint16((raw >> 1) & 0x7FF)
	r.PartNo = uint8((raw >> 20) & 0xFF)
}

// ABORT clears sticky error flags. Write-only, unbanked, at DP address
// 0x0 (the same offset DPIDR occupies for reads).
type ABORT struct {
	Raw uint32
}

const (
	abortDAPABORT  = 1 << 0
	abortSTKCMPCLR = 1 << 1
	abortSTKERRCLR = 1 << 2
	abortWDERRCLR  = 1 << 3
	abortORUNERRCLR = 1 << 4
)

func clearAllStickyFlags() ABORT {
	return ABORT{Raw: abortSTKCMPCLR | abortSTKERRCLR | abortWDERRCLR | abortORUNERRCLR}
}

func (r *ABORT) address() (wire.PortType, uint8, uint8) { return wire.DebugPort, 0, 0x0 }
func (r *ABORT) encode() uint32                         { return r.Raw }
func (r *ABORT) decode(raw uint32)                      { r.Raw = raw }

// CTRLSTAT drives the power-up handshake and surfaces sticky error
// flags. Banked at DP bank 0, address 0x4.
type CTRLSTAT struct {
	Raw            uint32
	CSYSPWRUPACK   bool
	CSYSPWRUPREQ   bool
	CDBGPWRUPACK   bool
	CDBGPWRUPREQ   bool
	CDBGRSTACK     bool
	CDBGRSTREQ     bool
	StickyErr      bool
	StickyOrrun    bool
}

const (
	ctrlCSYSPWRUPACK = 1 << 31
	ctrlCSYSPWRUPREQ = 1 << 30
	ctrlCDBGPWRUPACK = 1 << 29
	ctrlCDBGPWRUPREQ = 1 << 28
	ctrlCDBGRSTACK   = 1 << 27
	ctrlCDBGRSTREQ   = 1 << 26
	ctrlSTICKYERR    = 1 << 5
	ctrlSTICKYORRUN  = 1 << 1
)

func (r *CTRLSTAT) address() (wire.PortType, uint8, uint8) { return wire.DebugPort, 0, 0x4 }
func (r *CTRLSTAT) encode() uint32                         { return r.Raw }
func (r *CTRLSTAT) decode(raw uint32) {
	r.Raw = raw
	r.CSYSPWRUPACK = raw&ctrlCSYSPWRUPACK != 0
	r.CSYSPWRUPREQ = raw&ctrlCSYSPWRUPREQ != 0
	r.CDBGPWRUPACK = raw&ctrlCDBGPWRUPACK != 0
	r.CDBGPWRUPREQ = raw&ctrlCDBGPWRUPREQ != 0
	r.CDBGRSTACK = raw&ctrlCDBGRSTACK != 0
	r.CDBGRSTREQ = raw&ctrlCDBGRSTREQ != 0
	r.StickyErr = raw&ctrlSTICKYERR != 0
	r.StickyOrrun = raw&ctrlSTICKYORRUN != 0
}

func powerUpRequest() CTRLSTAT {
	return CTRLSTAT{Raw: ctrlCSYSPWRUPREQ | ctrlCDBGPWRUPREQ}
}

// SELECT chooses the active AP and the DP/AP register bank. Unbanked,
// at DP address 0x8.
type SELECT struct {
	Raw      uint32
	APSel    uint8
	APBank   uint8
	DPBank   uint8
}

func (r *SELECT) address() (wire.PortType, uint8, uint8) { return wire.DebugPort, 0, 0x8 }
func (r *SELECT) encode() uint32 {
	return uint32(r.APSel)<<24 | uint32(r.APBank)<<4 | uint32(r.DPBank)
}
func (r *SELECT) decode(raw uint32) {
	r.Raw = raw
	r.APSel = uint8(raw >> 24)
	r.APBank = uint8((raw >> 4) & 0xF)
	r.DPBank = uint8(raw & 0xF)
}

// RDBUFF holds the result of the last AP or banked-DP read. Read-only,
// unbanked, at DP address 0xC.
type RDBUFF struct {
	Raw uint32
}

func (r *RDBUFF) address() (wire.PortType, uint8, uint8) { return wire.DebugPort, 0, 0xC }
func (r *RDBUFF) encode() uint32                         { return r.Raw }
func (r *RDBUFF) decode(raw uint32)                      { r.Raw = raw }

// TARGETID identifies one target on a multi-drop SWD bus. Banked at DP
// bank 2, address 0x4 (DPv2+ only).
type TARGETID struct {
	Raw uint32
}

func (r *TARGETID) address() (wire.PortType, uint8, uint8) { return wire.DebugPort, 2, 0x4 }
func (r *TARGETID) encode() uint32                         { return r.Raw }
func (r *TARGETID) decode(raw uint32)                      { r.Raw = raw }

// ReadRegister performs a typed DP register read, handling SELECT-bank
// caching and sticky-fault recovery transparently (spec §4.2 step 3-5).
func ReadRegister[T any, PT registerPtr[T]](d *DP) (T, error) {
	var val T
	pt := PT(&val)
	port, bank, addr2 := pt.address()
	raw, err := d.typedRead(port, bank, addr2)
	if err != nil {
		return val, err
	}
	pt.decode(raw)
	return val, nil
}

// WriteRegister performs a typed DP register write.
func WriteRegister[T any, PT registerPtr[T]](d *DP, val T) error {
	pt := PT(&val)
	port, bank, addr2 := pt.address()
	return d.typedWrite(port, bank, addr2, pt.encode())
}
