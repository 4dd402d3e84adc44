package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kaby76/gpuocelot/internal/cache"
	"github.com/kaby76/gpuocelot/internal/observ"
	"github.com/kaby76/gpuocelot/internal/prof"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/translate"
	"github.com/kaby76/gpuocelot/internal/warmup"
)

var (
	translateLevel    string
	translateWarps    []int
	translateDump     bool
	translateTimings  bool
	translateProgress bool
	translateCPUProf  string
	translateMemProf  string
	translateTraceOut string
)

func init() {
	translateCmd.Flags().StringVar(&translateLevel, "level", "", "optimization level (none|report|debug|basic|aggressive|space|full)")
	translateCmd.Flags().IntSliceVar(&translateWarps, "warp", nil, "warp widths to translate for")
	translateCmd.Flags().BoolVar(&translateDump, "dump", false, "print the translated assembly")
	translateCmd.Flags().BoolVar(&translateTimings, "timings", false, "show per-phase timings")
	translateCmd.Flags().BoolVar(&translateProgress, "progress", false, "show live per-translation progress")
	translateCmd.Flags().StringVar(&translateCPUProf, "cpuprofile", "", "write a CPU profile to this file")
	translateCmd.Flags().StringVar(&translateMemProf, "memprofile", "", "write a heap profile to this file")
	translateCmd.Flags().StringVar(&translateTraceOut, "trace-out", "", "write a runtime trace to this file")
}

var translateCmd = &cobra.Command{
	Use:   "translate <module> <kernel>...",
	Short: "Register kernels and warm their translations",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tracer, err := setupTracing(cmd, cfg)
		if err != nil {
			return err
		}

		level := cfg.OptimizationLevel()
		if translateLevel != "" {
			level, err = translate.ParseOptimizationLevel(translateLevel)
			if err != nil {
				return err
			}
		}
		warps := cfg.Translation.WarpSizes
		if len(translateWarps) > 0 {
			warps = translateWarps
		}

		profOpts := prof.Options{
			CPUPath:   translateCPUProf,
			MemPath:   translateMemProf,
			TracePath: translateTraceOut,
		}
		var session *prof.Session
		if profOpts.Enabled() {
			session, err = prof.Start(profOpts)
			if err != nil {
				return err
			}
		}

		timer := observ.NewTimer()

		phase := timer.Begin("load")
		m, err := ptx.LoadModuleFile(args[0])
		if err != nil {
			return err
		}
		c := cache.New(tracer)
		if err := c.LoadModule(m, hostDeviceFor(m)); err != nil {
			return err
		}
		timer.End(phase, m.Name)

		phase = timer.Begin("register")
		var subkernels []ptx.SubkernelID
		for _, kernelName := range args[1:] {
			graph, err := c.RegisterKernel(m.Name, kernelName)
			if err != nil {
				return err
			}
			subkernels = append(subkernels, graph.Order...)
		}
		timer.End(phase, fmt.Sprintf("%d subkernels", len(subkernels)))

		phase = timer.Begin("translate")
		req := &warmup.Request{
			Cache:      c,
			Subkernels: subkernels,
			WarpSizes:  warps,
			Level:      level,
		}
		if translateProgress && isTerminal(os.Stdout) {
			err = runWarmupWithUI(fmt.Sprintf("translating %s", m.Name), req)
		} else {
			err = warmup.Run(req)
		}
		if err != nil {
			return err
		}
		timer.End(phase, fmt.Sprintf("%d translations", len(subkernels)*len(warps)))

		out := cmd.OutOrStdout()
		if translateDump {
			fmt.Fprint(out, c.Disassemble())
		}
		if translateTimings {
			fmt.Fprint(out, timer.Summary())
		}
		if session != nil {
			if err := session.Stop(); err != nil {
				return err
			}
		}
		return nil
	},
}
