package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaby76/gpuocelot/internal/config"
	"github.com/kaby76/gpuocelot/internal/device"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/trace"
)

// loadConfig resolves the effective configuration: --config when given, an
// ocelot.toml in the working directory when present, the defaults otherwise.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("ocelot.toml"); err == nil {
		return config.Load("ocelot.toml")
	}
	return config.Default(), nil
}

// setupTracing builds the tracer selected by --trace-level, falling back to
// the configured level.
func setupTracing(cmd *cobra.Command, cfg config.Config) (trace.Tracer, error) {
	levelStr, err := cmd.Root().PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}

	level := cfg.TraceLevel()
	if levelStr != "" {
		level, err = trace.ParseLevel(levelStr)
		if err != nil {
			return nil, err
		}
	}
	if level == trace.LevelOff {
		return trace.Nop(), nil
	}
	return trace.NewStream(cmd.ErrOrStderr(), level), nil
}

// hostDeviceFor builds a host device backing every declared global and
// texture of the module, so layout and linking resolve against real
// allocations.
func hostDeviceFor(m *ptx.Module) *device.HostDevice {
	dev := device.NewHostDevice()
	for i := range m.Globals {
		g := &m.Globals[i]
		if g.Directive == ptx.DirectiveGlobal {
			dev.AllocateGlobal(m.Path, g.Name, g.Size())
		}
	}
	for _, k := range m.Kernels {
		for _, b := range k.Blocks {
			for i := range b.Instructions {
				in := &b.Instructions[i]
				if in.Opcode == ptx.OpTex && in.A.Identifier != "" {
					dev.BindTexture(m.Path, &device.Texture{Name: in.A.Identifier})
				}
			}
		}
	}
	return dev
}
