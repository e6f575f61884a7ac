// Command autopoiesis runs the self-maintaining agent kernel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "autopoiesis",
	Short: "Autopoietic agent kernel",
	Long: `autopoiesis runs a population of reasoning agents that share an energy
pool, decompose their own tasks into subagents and are kept inside four
axioms by the kernel's background loops.

Use "run" to start the kernel and "stabilize" for the numeric demo.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stabilizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
