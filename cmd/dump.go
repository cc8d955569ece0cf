package cmd

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/util"
	"github.com/spf13/cobra"
)

var (
	dumpAddress string
	dumpCount   string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Read and display target memory from the specified address",
	Long: `Read a block of target memory over the Memory-AP and display it in
hex dump format.

Example:
  probecore dump --address 20000000 --count 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpMemory()
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVar(&dumpAddress, "address", "", "Starting address (hex, e.g., 20000000)")
	dumpCmd.Flags().StringVar(&dumpCount, "count", "10", "Number of bytes to read (hex, e.g., 100)")
	dumpCmd.MarkFlagRequired("address")
}

func dumpMemory() error {
	addr, err := util.ParseHexAddress(dumpAddress)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	count, err := util.ParseHexSize(dumpCount)
	if err != nil {
		return fmt.Errorf("invalid count: %w", err)
	}

	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	data := make([]byte, count)
	for i := range data {
		b, err := sess.Mem().Read8(uint64(addr) + uint64(i))
		if err != nil {
			return fmt.Errorf("failed to read memory at %#x: %w", uint64(addr)+uint64(i), err)
		}
		data[i] = b
	}

	util.HexDump(data, addr)
	return nil
}
