package main

import (
	"github.com/spf13/cobra"

	"github.com/fabriclabs/unshub/internal/debug"
)

var (
	// Version is the current version of unshub (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build is the build type (overridden by ldflags at build time)
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		debug.PrintNormal("unshub version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
