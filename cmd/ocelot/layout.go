package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kaby76/gpuocelot/internal/layout"
	"github.com/kaby76/gpuocelot/internal/ptx"
)

var layoutWarpSize int

func init() {
	layoutCmd.Flags().IntVar(&layoutWarpSize, "warp", 1, "warp width to plan for")
}

var layoutCmd = &cobra.Command{
	Use:   "layout <module> <kernel>",
	Short: "Show the planned memory layout of a kernel's subkernels",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tracer, err := setupTracing(cmd, cfg)
		if err != nil {
			return err
		}

		m, err := ptx.LoadModuleFile(args[0])
		if err != nil {
			return err
		}
		kernel, ok := m.Kernel(args[1])
		if !ok {
			return fmt.Errorf("module %q has no kernel %q", m.Name, args[1])
		}

		graph, err := ptx.Partition(kernel, 0)
		if err != nil {
			return err
		}

		dev := hostDeviceFor(m)
		planner := layout.NewPlanner(tracer)
		out := cmd.OutOrStdout()
		heading := color.New(color.Bold)

		for _, id := range graph.Order {
			sk := graph.Subkernels[id]
			md, err := planner.Plan(sk.Kernel, m, dev, layoutWarpSize)
			if err != nil {
				return err
			}
			heading.Fprintf(out, "subkernel %d: %s\n", id, sk.Kernel.Name)
			fmt.Fprintf(out, "  argument  %6d bytes\n", md.ArgumentSize)
			fmt.Fprintf(out, "  parameter %6d bytes\n", md.ParameterSize)
			fmt.Fprintf(out, "  shared    %6d bytes\n", md.SharedSize)
			fmt.Fprintf(out, "  constant  %6d bytes\n", md.ConstantSize)
			fmt.Fprintf(out, "  local     %6d bytes\n", md.LocalSize)
			if len(md.Textures) > 0 {
				fmt.Fprintf(out, "  textures  %6d slots\n", len(md.Textures))
			}
		}
		return nil
	},
}
