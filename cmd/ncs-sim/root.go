package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ncs-sim",
	Short: "Networked control system testbed",
	Long:  "ncs-sim simulates a plant behind an imperfect network, a reconfigurable control loop, adaptive decision policies, and an attack orchestrator.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
