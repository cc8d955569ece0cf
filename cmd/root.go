// Package cmd implements all CLI commands for probecore.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/daschewie/probecore/pkg/adiv5/wire"
	"github.com/daschewie/probecore/pkg/config"
	"github.com/daschewie/probecore/pkg/session"
	"github.com/daschewie/probecore/pkg/target"
	"github.com/spf13/cobra"
)

var (
	// Global configuration instance
	cfg *config.Config

	// Global flags
	probeFlag  string
	targetFlag string
	coreFlag   string
	quietFlag  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "probecore",
	Short: "probecore - ARM/RISC-V in-circuit debugger core",
	Long: `probecore attaches to a target over SWD/JTAG through a physical debug
probe, programs flash memory via a vendor flash algorithm, and drives
an interactive halt/step/breakpoint debug session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if probeFlag != "" {
			cfg.Probe = probeFlag
		}
		if targetFlag != "" {
			cfg.DefaultTarget = targetFlag
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to
// happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&probeFlag, "probe", "", "Serial device or TCP address of the debug probe (e.g., /dev/ttyACM0, 192.168.1.50:2560)")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "Target description YAML file")
	rootCmd.PersistentFlags().StringVar(&coreFlag, "core", "", "Target core type (cortex-m0, cortex-m4, riscv, ...)")
	rootCmd.PersistentFlags().BoolVar(&quietFlag, "quiet", false, "Suppress informational output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// validateConnectionFlags checks that a probe has been named, either on
// the command line or in probecore.ini.
func validateConnectionFlags() error {
	if cfg.Probe == "" {
		return fmt.Errorf("no probe specified (use --probe flag or set in probecore.ini)")
	}
	return nil
}

// openProbe opens the configured probe: a host:port address dials a
// TCPBridgeProbe, anything else opens a SerialBridgeProbe.
func openProbe() (wire.Probe, error) {
	if looksLikeTCPAddress(cfg.Probe) {
		return wire.NewTCPBridgeProbe(cfg.Probe), nil
	}
	return wire.NewSerialBridgeProbe(cfg.Probe, cfg.BaudRate, time.Duration(cfg.Timeout)*time.Second), nil
}

func looksLikeTCPAddress(probe string) bool {
	host, port, found := strings.Cut(probe, ":")
	if !found || host == "" {
		return false
	}
	_, err := strconv.Atoi(port)
	return err == nil
}

// attachSession opens the configured probe and attaches a session.Session
// to it, applying the configured core type and power-down-on-detach
// policy.
func attachSession() (*session.Session, error) {
	if err := validateConnectionFlags(); err != nil {
		return nil, err
	}

	probe, err := openProbe()
	if err != nil {
		return nil, fmt.Errorf("failed to open probe: %w", err)
	}

	core := coreFlag
	if core == "" && cfg.DefaultTarget != "" {
		if t, err := target.Load(cfg.DefaultTarget); err == nil {
			core = t.Core
		}
	}

	sess, err := session.Attach(probe, wire.TargetSelector{}, core)
	if err != nil {
		probe.Close()
		return nil, fmt.Errorf("failed to attach session: %w", err)
	}
	sess.PowerDownOnDetach = cfg.PowerDownOnDetach
	return sess, nil
}

// printInfo prints output that respects --quiet.
func printInfo(format string, args ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, args...)
	}
}

// printError prints an error message, always shown.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
