package translate

import (
	"fmt"

	"github.com/kaby76/gpuocelot/internal/backend"
	"github.com/kaby76/gpuocelot/internal/device"
	"github.com/kaby76/gpuocelot/internal/layout"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/trace"
)

// TranslatedPrefix prefixes the generic translation of every subkernel.
const TranslatedPrefix = "_Z_ocelotTranslated_"

// TranslatedName returns the generic function name of a subkernel.
func TranslatedName(subkernel string) string {
	return TranslatedPrefix + subkernel
}

// TranslationError wraps a failure of the lowering pipeline. Diagnostic
// carries the emitted assembly when the failure happened after lowering.
type TranslationError struct {
	Kernel     string
	Stage      string
	Diagnostic string
	Err        error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translating %s: %s: %v", e.Kernel, e.Stage, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Pipeline lowers planned subkernels into a backend module. It owns no
// state of its own beyond its collaborators and is safe for use under the
// cache's build lock.
type Pipeline struct {
	engine  *backend.Engine
	planner *layout.Planner
	tracer  trace.Tracer
}

// NewPipeline creates a pipeline. tracer may be nil.
func NewPipeline(engine *backend.Engine, planner *layout.Planner, tracer trace.Tracer) *Pipeline {
	if tracer == nil {
		tracer = trace.Nop()
	}
	return &Pipeline{engine: engine, planner: planner, tracer: tracer}
}

// Translate plans the subkernel, lowers it and splices the generic
// translation into the backend module. dev is the device the module was
// loaded against. Layout is warp-independent, so the generic translation
// plans at warp width 1 and serves every later specialization. The
// subkernel's operands are rewritten in place by planning; a subkernel is
// translated at most once. On failure nothing is added to the backend
// module and the kernel is left in a consistent, retranslatable form.
func (p *Pipeline) Translate(m *backend.Module, module *ptx.Module, sk *ptx.Subkernel, dev device.Device, resolver Resolver) (*backend.Function, *layout.Metadata, error) {
	kernel := sk.Kernel

	md, err := p.planner.Plan(kernel, module, dev, 1)
	if err != nil {
		return nil, nil, err
	}

	targets, err := ResolveCallTargets(kernel, resolver)
	if err != nil {
		return nil, nil, err
	}

	ConvertPredicationToSelect(kernel)
	ssa := ToSSA(kernel)

	name := TranslatedName(kernel.Name)
	text, err := Emit(name, sk, md, targets)
	if err != nil {
		ssa.Revert()
		return nil, nil, &TranslationError{Kernel: kernel.Name, Stage: "lower", Err: err}
	}

	funcs, err := p.engine.ParseAssemblyInto(m, text)
	if err != nil {
		ssa.Revert()
		return nil, nil, &TranslationError{
			Kernel:     kernel.Name,
			Stage:      "assemble",
			Diagnostic: text,
			Err:        err,
		}
	}

	p.tracer.Eventf(trace.LevelTranslation, "translated %s as %s (%d blocks)",
		kernel.Name, name, len(funcs[0].Blocks))
	p.tracer.Eventf(trace.LevelDetail, "%s", text)
	return funcs[0], md, nil
}
