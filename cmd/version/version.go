package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/thestuu/engine/internal/buildinfo"
)

// Command creates the version subcommand.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("thestuu-engine %s (%s, %s/%s)\n",
				buildinfo.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
