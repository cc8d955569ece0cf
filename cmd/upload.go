package cmd

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/loader"
	"github.com/daschewie/probecore/pkg/session"
	"github.com/daschewie/probecore/pkg/util"
	"github.com/spf13/cobra"
)

var uploadAddress string

// uploadCmd represents the Intel HEX upload command
var uploadCmd = &cobra.Command{
	Use:   "upload <hexfile>",
	Short: "Upload an Intel HEX file to target memory",
	Long: `Parse an Intel HEX file and write each record directly to target
memory over the Memory-AP.

Example:
  probecore upload program.hex`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadFile(args[0], "intelhex")
	},
}

// uploadSrecCmd represents the SREC upload command
var uploadSrecCmd = &cobra.Command{
	Use:   "upload-srec <srecfile>",
	Short: "Upload a Motorola SREC file to target memory",
	Long: `Parse a Motorola SREC file and write each record directly to target
memory over the Memory-AP.

Example:
  probecore upload-srec program.srec`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadFile(args[0], "srec")
	},
}

// binaryCmd represents the raw binary upload command
var binaryCmd = &cobra.Command{
	Use:   "binary <binfile>",
	Short: "Upload a raw binary file to target memory",
	Long: `Write a raw binary file to target memory at the specified address.

Example:
  probecore binary program.bin --address 20000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return uploadBinary(args[0])
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(uploadSrecCmd)
	rootCmd.AddCommand(binaryCmd)

	binaryCmd.Flags().StringVar(&uploadAddress, "address", "", "Target address (hex, e.g., 20000000)")
	binaryCmd.MarkFlagRequired("address")
}

// uploadFile is the common upload handler for the record-oriented
// loader formats.
func uploadFile(filename string, format string) error {
	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	var ldr loader.Loader
	switch format {
	case "intelhex":
		ldr = loader.NewIntelHexLoader()
	case "srec":
		ldr = loader.NewSRecLoader()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	if err := ldr.Open(filename); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer ldr.Close()

	ldr.SetHandler(func(address uint32, data []byte) error {
		return writeMemoryBlock(sess, uint64(address), data)
	})

	printInfo("Uploading %s...\n", filename)
	if err := ldr.Process(); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	printInfo("Upload complete.\n")
	return nil
}

// uploadBinary uploads a raw binary file to the specified address
func uploadBinary(filename string) error {
	addr, err := util.ParseHexAddress(uploadAddress)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	data, err := util.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	printInfo("Uploading %d bytes to %#x...\n", len(data), addr)
	if err := writeMemoryBlock(sess, uint64(addr), data); err != nil {
		return err
	}

	printInfo("Upload complete.\n")
	return nil
}

// writeMemoryBlock writes data to target memory starting at address,
// byte by byte over the bound Memory-AP, matching dump/write's transfer
// granularity.
func writeMemoryBlock(sess *session.Session, address uint64, data []byte) error {
	for i, b := range data {
		if err := sess.Mem().Write8(address+uint64(i), b); err != nil {
			return fmt.Errorf("failed to write memory at %#x: %w", address+uint64(i), err)
		}
	}
	return nil
}
