// probecore - in-circuit debugger/flasher core for ARM and RISC-V
// microcontrollers.
//
// This tool attaches to a target over SWD/JTAG through a physical debug
// probe, programs flash memory via a vendor flash algorithm, and drives
// an interactive halt/step/breakpoint debug session.
package main

import (
	"fmt"
	"os"

	"github.com/daschewie/probecore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
