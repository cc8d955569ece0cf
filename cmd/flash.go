package cmd

import (
	"fmt"

	"github.com/daschewie/probecore/pkg/flash"
	"github.com/daschewie/probecore/pkg/loader"
	"github.com/daschewie/probecore/pkg/target"
	"github.com/daschewie/probecore/pkg/util"
	"github.com/spf13/cobra"
)

var (
	flashFormat         string
	flashAddress        string
	flashChipErase      bool
	flashRestoreBytes   bool
	flashDoubleBuffered bool
)

// flashCmd represents the flash programming command
var flashCmd = &cobra.Command{
	Use:   "flash <file>",
	Short: "Program flash memory using the target's flash algorithm",
	Long: `Load an image into a flash layout and run it through the target's
flash algorithm: load and verify the algorithm, init, optionally fill
in bytes the image doesn't cover, erase, program, uninit.

The target description (--target) supplies the flash algorithm and
memory map. file is parsed as Intel HEX, SREC, or raw binary loaded at
--address, depending on --format.

⚠️  WARNING: This overwrites flash memory.

Example:
  probecore flash firmware.hex --target stm32f4.yaml
  probecore flash firmware.bin --format binary --address 8000000 --target stm32f4.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlash(args[0])
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)

	flashCmd.Flags().StringVar(&flashFormat, "format", "intelhex", "Input file format: intelhex, srec, or binary")
	flashCmd.Flags().StringVar(&flashAddress, "address", "", "Load address for --format binary (hex, e.g., 8000000)")
	flashCmd.Flags().BoolVar(&flashChipErase, "chip-erase", false, "Erase the whole chip instead of just the touched sectors")
	flashCmd.Flags().BoolVar(&flashRestoreBytes, "restore-unwritten-bytes", true, "Read back and preserve bytes in touched sectors the image doesn't cover")
	flashCmd.Flags().BoolVar(&flashDoubleBuffered, "double-buffered", false, "Overlap the next page's transfer with the previous page's program call")
}

// runFlash loads the target description and image, builds the
// sector/page layout, and drives the session's flash pipeline to
// completion, printing each stage's progress events.
func runFlash(filename string) error {
	if targetFlag == "" {
		return fmt.Errorf("flash requires --target (a target description YAML file)")
	}
	t, err := target.Load(targetFlag)
	if err != nil {
		return fmt.Errorf("failed to load target: %w", err)
	}
	algorithm, err := t.Algorithm.Resolve()
	if err != nil {
		return fmt.Errorf("failed to resolve flash algorithm: %w", err)
	}

	builder := flash.NewBuilder(algorithm)
	if err := loadFlashImage(builder, filename); err != nil {
		return err
	}

	sectors, err := builder.Build(flashRestoreBytes)
	if err != nil {
		return fmt.Errorf("failed to lay out flash image: %w", err)
	}
	if len(sectors) == 0 {
		printInfo("Nothing to program.\n")
		return nil
	}

	if !util.ConfirmDanger(fmt.Sprintf("You are about to program %d flash sector(s)", len(sectors))) {
		printInfo("Operation cancelled.\n")
		return nil
	}

	coreFlag = t.Core
	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	options := flash.Options{
		ChipErase:             flashChipErase,
		RestoreUnwrittenBytes: flashRestoreBytes,
		DoubleBuffered:        flashDoubleBuffered,
	}

	events := make(chan flash.Event, 32)
	errCh := make(chan error, 1)
	go func() {
		err := sess.Flash(algorithm, sectors, options, events)
		close(events)
		errCh <- err
	}()

	for ev := range events {
		reportFlashEvent(ev)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("flash programming failed: %w", err)
	}

	printInfo("Flash programming complete.\n")
	return nil
}

// loadFlashImage parses filename according to flashFormat and feeds
// every (address, bytes) record it yields into builder.
func loadFlashImage(builder *flash.Builder, filename string) error {
	switch flashFormat {
	case "binary":
		addr, err := util.ParseHexAddress(flashAddress)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		data, err := util.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		return builder.AddData(uint64(addr), data)

	case "intelhex", "srec":
		var ldr loader.Loader
		if flashFormat == "intelhex" {
			ldr = loader.NewIntelHexLoader()
		} else {
			ldr = loader.NewSRecLoader()
		}
		if err := ldr.Open(filename); err != nil {
			return fmt.Errorf("failed to open %s: %w", filename, err)
		}
		defer ldr.Close()

		ldr.SetHandler(func(address uint32, data []byte) error {
			return builder.AddData(uint64(address), data)
		})
		if err := ldr.Process(); err != nil {
			return fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported format %q (use intelhex, srec, or binary)", flashFormat)
	}
}

// reportFlashEvent prints a pipeline event's user-relevant cases,
// leaving step-internal events (Started*/Finished* boundaries other
// than completion) silent at normal verbosity.
func reportFlashEvent(ev flash.Event) {
	switch ev.Kind {
	case flash.EventInitialized:
		printInfo("Algorithm initialized.\n")
	case flash.EventSectorErased:
		printInfo("Erased sector at %#x\n", ev.Address)
	case flash.EventPageProgrammed:
		printInfo("Programmed page at %#x\n", ev.Address)
	case flash.EventFailedInit, flash.EventFailedFilling, flash.EventFailedErasing,
		flash.EventFailedProgramming, flash.EventFailedUninit:
		printError("%s at %#x: %v", ev.Kind, ev.Address, ev.Err)
	}
}
