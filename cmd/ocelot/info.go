package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kaby76/gpuocelot/internal/ptx"
)

var infoCmd = &cobra.Command{
	Use:   "info <module>",
	Short: "Inspect a kernel module container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := ptx.LoadModuleFile(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		heading := color.New(color.Bold)
		heading.Fprintf(out, "module %s\n", m.Name)

		if len(m.Globals) > 0 {
			fmt.Fprintln(out, "globals:")
			for i := range m.Globals {
				g := &m.Globals[i]
				extern := ""
				if g.Extern {
					extern = " extern"
				}
				fmt.Fprintf(out, "  %s %s %s  %d bytes%s\n",
					g.Directive, g.Type, g.Name, g.Size(), extern)
			}
		}

		fmt.Fprintln(out, "kernels:")
		for _, k := range m.Kernels {
			kind := "entry"
			if k.Function {
				kind = "func"
			}
			fmt.Fprintf(out, "  %-5s %s  %d args, %d locals, %d blocks\n",
				kind, k.Name, len(k.Arguments), len(k.Locals), len(k.Blocks))
		}
		return nil
	},
}
