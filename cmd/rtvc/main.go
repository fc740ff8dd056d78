// Command rtvc is the CLI entry point for the real-time voice-conversion
// engine.
package main

import (
	"fmt"
	"os"

	"github.com/tphakala/rtvc/cmd"
	"github.com/tphakala/rtvc/internal/conf"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
