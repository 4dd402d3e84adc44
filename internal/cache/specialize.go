package cache

import (
	"fmt"

	"github.com/kaby76/gpuocelot/internal/backend"
	"github.com/kaby76/gpuocelot/internal/trace"
	"github.com/kaby76/gpuocelot/internal/translate"
)

// SpecializationError wraps a failure of the specialization sequence. The
// failed clone and any binding it introduced are rolled back before the
// error is returned; the generic translation stays usable.
type SpecializationError struct {
	Subkernel string
	Clone     string
	Stage     string
	Err       error
}

func (e *SpecializationError) Error() string {
	return fmt.Sprintf("specializing %s as %s: %s: %v", e.Subkernel, e.Clone, e.Stage, e.Err)
}

func (e *SpecializationError) Unwrap() error { return e.Err }

// specialize clones the generic translation, runs the level's pass tier,
// verifies, links global symbols through the owning module's device and
// compiles for the warp width. Caller holds the build lock.
func (c *TranslationCache) specialize(entry *subkernelEntry, generic *backend.Function, warpSize int, level translate.OptimizationLevel) (*Translation, error) {
	name := entry.subkernel.Kernel.Name
	cloneName := fmt.Sprintf("%s_opt%d_ws%d", generic.Name, cloneLevel(level), warpSize)

	fail := func(stage string, err error) (*Translation, error) {
		c.engine.RemoveFunction(c.code, cloneName)
		return nil, &SpecializationError{Subkernel: name, Clone: cloneName, Stage: stage, Err: err}
	}

	clone, err := c.engine.CloneFunction(c.code, generic.Name, cloneName)
	if err != nil {
		return nil, &SpecializationError{Subkernel: name, Clone: cloneName, Stage: "clone", Err: err}
	}

	if c.tracer.Enabled(trace.LevelDetail) && level == translate.OptimizationReport {
		c.tracer.Eventf(trace.LevelDetail, "before %s:\n%s", level, clone)
	}
	if err := c.engine.RunPasses(clone, level.Passes()); err != nil {
		return fail("optimize", err)
	}
	if c.tracer.Enabled(trace.LevelDetail) && level == translate.OptimizationReport {
		c.tracer.Eventf(trace.LevelDetail, "after %s:\n%s", level, clone)
	}

	if err := backend.Verify(c.code); err != nil {
		return fail("verify", err)
	}

	bound, err := c.linkGlobals(entry, clone)
	if err != nil {
		return fail("link", err)
	}

	fn, err := c.engine.Compile(clone, warpSize)
	if err != nil {
		for _, sym := range bound {
			c.engine.UnbindGlobal(sym)
		}
		return fail("compile", err)
	}

	c.tracer.Eventf(trace.LevelTranslation, "specialized %s (warp %d, %s)",
		cloneName, warpSize, level)
	return &Translation{
		Name:     cloneName,
		Function: fn,
		Metadata: entry.metadata,
		WarpSize: warpSize,
		Level:    level,
	}, nil
}

// cloneLevel maps an optimization level to the numeric suffix of its
// specialized clone. Levels sharing a pass budget share a suffix.
func cloneLevel(level translate.OptimizationLevel) int {
	switch level {
	case translate.OptimizationBasic:
		return 1
	case translate.OptimizationAggressive, translate.OptimizationSpace:
		return 2
	case translate.OptimizationFull:
		return 3
	default:
		return 0
	}
}

// linkGlobals binds every global symbol the clone references to its device
// allocation. It returns the symbols newly bound by this call so a later
// compile failure can undo exactly its own bindings.
func (c *TranslationCache) linkGlobals(entry *subkernelEntry, fn *backend.Function) ([]string, error) {
	symbols := referencedSymbols(fn)
	if len(symbols) == 0 {
		return nil, nil
	}

	var bound []string
	for _, sym := range symbols {
		if _, ok := c.engine.Binding(sym); ok {
			continue
		}
		if entry.device == nil {
			c.rollbackBindings(bound)
			return nil, fmt.Errorf("no device to resolve global %q", sym)
		}
		alloc, err := entry.device.GetGlobalAllocation(entry.module.Path, sym)
		if err != nil {
			c.rollbackBindings(bound)
			return nil, err
		}
		if c.engine.BindGlobal(sym, alloc.Memory) {
			bound = append(bound, sym)
		}
		c.tracer.Eventf(trace.LevelDetail, "  bound global %s (%d bytes)", sym, alloc.Size())
	}
	return bound, nil
}

func (c *TranslationCache) rollbackBindings(bound []string) {
	for _, sym := range bound {
		c.engine.UnbindGlobal(sym)
	}
}

// referencedSymbols collects the global symbols a function references, in
// first-use order.
func referencedSymbols(fn *backend.Function) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(sym string) {
		if sym == "" {
			return
		}
		if _, dup := seen[sym]; dup {
			return
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			for _, v := range in.Uses() {
				if v.Kind == backend.ValueSym {
					add(v.Sym)
				}
			}
			add(in.Addr.Sym)
		}
	}
	return out
}
