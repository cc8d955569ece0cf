package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daschewie/probecore/pkg/adiv5/wire"
	"github.com/spf13/cobra"
)

// tcpBridgeCmd represents the tcp-bridge command
var tcpBridgeCmd = &cobra.Command{
	Use:   "tcp-bridge <host:port>",
	Short: "Start a TCP-to-serial relay for the debug probe",
	Long: `Start a TCP server that relays register-access frames between TCP
clients and the serial-attached probe (--probe), so a probe without a
network-native transport can still be reached remotely.

Example:
  probecore tcp-bridge localhost:2560 --probe /dev/ttyACM0
  probecore tcp-bridge 0.0.0.0:2560 --probe /dev/ttyACM0  # listen on all interfaces`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startTCPBridge(args[0])
	},
}

func init() {
	rootCmd.AddCommand(tcpBridgeCmd)
}

// startTCPBridge starts the TCP bridge server
func startTCPBridge(hostPort string) error {
	if err := validateConnectionFlags(); err != nil {
		return err
	}
	if looksLikeTCPAddress(cfg.Probe) {
		return fmt.Errorf("--probe %q is already a TCP address; tcp-bridge relays to a serial-attached probe", cfg.Probe)
	}

	host, portStr, found := strings.Cut(hostPort, ":")
	if !found || host == "" {
		return fmt.Errorf("invalid host:port format (expected HOST:PORT)")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}

	printInfo("Starting TCP bridge on %s:%d -> %s\n", host, port, cfg.Probe)
	printInfo("Serial settings: %d baud, %ds timeout\n", cfg.BaudRate, cfg.Timeout)

	bridge := wire.NewBridge(host, port, cfg.Probe, cfg.BaudRate, time.Duration(cfg.Timeout)*time.Second)
	return bridge.Listen()
}
