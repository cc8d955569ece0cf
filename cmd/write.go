package cmd

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/util"
	"github.com/spf13/cobra"
)

var writeAddress string

// writeCmd represents the memory write command
var writeCmd = &cobra.Command{
	Use:   "write <hexbytes>",
	Short: "Write bytes to target memory",
	Long: `Write a sequence of hex-encoded bytes to target memory over the
Memory-AP.

Example:
  probecore write DEADBEEF --address 20000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeMemory(args[0])
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)

	writeCmd.Flags().StringVar(&writeAddress, "address", "", "Target address (hex, e.g., 20000000)")
	writeCmd.MarkFlagRequired("address")
}

func writeMemory(hexBytes string) error {
	addr, err := util.ParseHexAddress(writeAddress)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	data := make([]byte, len(hexBytes)/2)
	if len(hexBytes)%2 != 0 {
		return fmt.Errorf("hex byte string must have an even number of digits")
	}
	for i := range data {
		if _, err := fmt.Sscanf(hexBytes[i*2:i*2+2], "%02x", &data[i]); err != nil {
			return fmt.Errorf("invalid hex at position %d: %w", i*2, err)
		}
	}

	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	printInfo("Writing %d bytes to %#x...\n", len(data), addr)
	for i, b := range data {
		if err := sess.Mem().Write8(uint64(addr)+uint64(i), b); err != nil {
			return fmt.Errorf("failed to write memory at %#x: %w", uint64(addr)+uint64(i), err)
		}
	}

	printInfo("Write complete.\n")
	return nil
}
