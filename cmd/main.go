package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "forkwatch",
	Short:        "Watch Bitcoin nodes for chain forks",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func main() {
	rootCmd.AddCommand(newRunCmd(), versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
