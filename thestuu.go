package main

import (
	"fmt"
	"os"

	"github.com/thestuu/engine/cmd"
	"github.com/thestuu/engine/internal/conf"
)

func main() {
	settings, err := conf.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
