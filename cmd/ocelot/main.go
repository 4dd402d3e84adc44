package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kaby76/gpuocelot/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ocelot",
	Short: "Dynamic kernel translation cache",
	Long:  `ocelot loads kernel modules, partitions kernels at their barriers and translates subkernels on demand`,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(translateCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("config", "", "path to ocelot.toml")
	rootCmd.PersistentFlags().String("trace-level", "", "trace verbosity (off|translation|detail)")

	cobra.OnInitialize(setupColor)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupColor() {
	mode, _ := rootCmd.PersistentFlags().GetString("color")
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(os.Stdout)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
