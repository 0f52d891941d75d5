// Package cmd assembles the engine's command-line interface: persistent
// flags bound to viper, one long-running subcommand, and trivial
// informational subcommands that skip full initialization.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thestuu/engine/cmd/license"
	"github.com/thestuu/engine/cmd/serve"
	"github.com/thestuu/engine/cmd/version"
	"github.com/thestuu/engine/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "thestuu-engine",
		Short: "TheStuu audio/session engine",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		version.Command(),
		license.Command(),
	)
	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d",
		viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Paths.DataRoot, "data-root",
		settings.Paths.DataRoot, "User data root (projects/, media/, logs/)")
	rootCmd.PersistentFlags().StringVar(&settings.Wire.ControlListen, "listen",
		settings.Wire.ControlListen, "Control channel listen address")
	rootCmd.PersistentFlags().IntVar(&settings.Audio.SampleRate, "sample-rate",
		settings.Audio.SampleRate, "Audio device sample rate")
	rootCmd.PersistentFlags().IntVar(&settings.Audio.BlockSize, "block-size",
		settings.Audio.BlockSize, "Audio callback block size in frames")
	rootCmd.PersistentFlags().StringVar(&settings.Audio.OutputDevice, "output-device",
		settings.Audio.OutputDevice, "Output device name (substring match)")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
