package flash

import (
	"fmt"
	"time"

	"github.com/daschewie/probecore/pkg/arch"
)

// Cortex-M System Control Space debug registers, memory-mapped and
// reached through the ordinary Memory-AP interface like any other
// target address.
const (
	addrDHCSR = 0xE000EDF0
	addrDCRSR = 0xE000EDF4
	addrDCRDR = 0xE000EDF8
	addrAIRCR = 0xE000ED0C
)

const (
	dhcsrDbgKey  = 0xA05F0000
	dhcsrCDebugEn = 1 << 0
	dhcsrCHalt    = 1 << 1
	dhcsrSHalt    = 1 << 17
)

const aircrVectKeyAndSysResetReq = (0x05FA << 16) | (1 << 2)

// cortexMRegisterSelector maps an arch.Register to the DCRSR register
// index Cortex-M uses to select the core register DCRSR/DCRDR address.
func cortexMRegisterSelector(reg arch.Register) (uint32, error) {
	switch reg {
	case arch.RegArg0:
		return 0, nil // R0
	case arch.RegArg1:
		return 1, nil // R1
	case arch.RegArg2:
		return 2, nil // R2
	case arch.RegArg3:
		return 3, nil // R3
	case arch.RegStaticBase:
		return 9, nil // R9
	case arch.RegSP:
		return 13, nil // R13 / SP
	case arch.RegLR:
		return 14, nil // R14 / LR
	case arch.RegPC:
		return 15, nil // R15 / PC (Thumb bit already encoded by the caller)
	case arch.RegResult:
		return 0, nil // R0
	default:
		return 0, fmt.Errorf("flash: no Cortex-M DCRSR mapping for %s", reg)
	}
}

// CortexMCore implements CoreControl for ARMv6-M/v7-M/v8-M cores,
// reading and writing registers through DCRSR/DCRDR and halting via
// DHCSR, all reached as ordinary memory-mapped accesses over the
// Memory-AP.
type CortexMCore struct {
	mem interface {
		Read32(address uint64) (uint32, error)
		Write32(address uint64, value uint32) error
	}
	pollInterval time.Duration
}

// NewCortexMCore binds core control to a target's System Control Space
// through its memory interface.
func NewCortexMCore(mem interface {
	Read32(address uint64) (uint32, error)
	Write32(address uint64, value uint32) error
}) *CortexMCore {
	return &CortexMCore{mem: mem, pollInterval: 5 * time.Millisecond}
}

func (c *CortexMCore) Halt() error {
	return c.mem.Write32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt)
}

func (c *CortexMCore) Resume() error {
	return c.mem.Write32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn)
}

// ResetAndHalt issues SYSRESETREQ via AIRCR, then re-asserts the halt
// request — the vendor-mandated reset-then-stop sequence from spec §5
// ("sleeps inside reset sequences... before re-checking status").
func (c *CortexMCore) ResetAndHalt() error {
	if err := c.mem.Write32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt); err != nil {
		return err
	}
	if err := c.mem.Write32(addrAIRCR, aircrVectKeyAndSysResetReq); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return c.Halt()
}

func (c *CortexMCore) WaitHalted(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		dhcsr, err := c.mem.Read32(addrDHCSR)
		if err != nil {
			return err
		}
		if dhcsr&dhcsrSHalt != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("flash: timed out waiting for core halt after %s", timeout)
		}
		time.Sleep(c.pollInterval)
	}
}

func (c *CortexMCore) WriteRegister(reg arch.Register, value uint64) error {
	sel, err := cortexMRegisterSelector(reg)
	if err != nil {
		return err
	}
	if err := c.mem.Write32(addrDCRDR, uint32(value)); err != nil {
		return err
	}
	const dcrsrWrite = 1 << 16
	return c.mem.Write32(addrDCRSR, sel|dcrsrWrite)
}

func (c *CortexMCore) ReadRegister(reg arch.Register) (uint64, error) {
	sel, err := cortexMRegisterSelector(reg)
	if err != nil {
		return 0, err
	}
	if err := c.mem.Write32(addrDCRSR, sel); err != nil { // bit 16 clear = read transfer
		return 0, err
	}
	value, err := c.mem.Read32(addrDCRDR)
	return uint64(value), err
}
