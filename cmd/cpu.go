package cmd

import (
	"fmt"
	"time"

	"github.com/daschewie/probecore/pkg/util"
	"github.com/spf13/cobra"
)

// haltCmd represents the core halt command
var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt the target core",
	Long: `Halt target core execution.

This creates a persistent halted-state indicator (probecore.stp),
allowing multiple debug operations across separate command invocations
without re-halting the core each time.

Example:
  probecore halt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return haltCore()
	},
}

// resumeCmd represents the core resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the target core",
	Long: `Resume target core execution after a halt.

Clears the persistent halted-state indicator (probecore.stp).

Example:
  probecore resume`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return resumeCore()
	},
}

// stepCmd represents the single-step command
var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Single-step the target core",
	Long: `Execute a single instruction on the target core and re-halt.

Example:
  probecore step`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stepCore()
	},
}

func init() {
	rootCmd.AddCommand(haltCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stepCmd)
}

// haltCore halts the core and sets the halt indicator
func haltCore() error {
	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	printInfo("Halting core...\n")
	if err := sess.Halt(); err != nil {
		return fmt.Errorf("failed to halt core: %w", err)
	}
	if err := sess.WaitHalted(500 * time.Millisecond); err != nil {
		return fmt.Errorf("core did not halt: %w", err)
	}

	if err := util.SetHaltIndicator(); err != nil {
		return fmt.Errorf("failed to set halt indicator: %w", err)
	}

	printInfo("Core halted. Use 'resume' to continue.\n")
	return nil
}

// resumeCore resumes the core and clears the halt indicator
func resumeCore() error {
	if !util.IsHalted() {
		printInfo("Core is not in a halted state.\n")
		return nil
	}

	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	printInfo("Resuming core...\n")
	if err := sess.Resume(); err != nil {
		return fmt.Errorf("failed to resume core: %w", err)
	}

	if err := util.ClearHaltIndicator(); err != nil {
		return fmt.Errorf("failed to clear halt indicator: %w", err)
	}

	printInfo("Core resumed.\n")
	return nil
}

// stepCore single-steps the core one instruction
func stepCore() error {
	sess, err := attachSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	printInfo("Stepping core...\n")
	if err := sess.Step(); err != nil {
		return fmt.Errorf("failed to step core: %w", err)
	}

	printInfo("Core halted after one instruction.\n")
	return nil
}
